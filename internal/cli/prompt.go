package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/taleweaver/internal/app"
	"github.com/ent0n29/taleweaver/internal/completion"
	"github.com/ent0n29/taleweaver/internal/policy"
	"github.com/ent0n29/taleweaver/internal/roleplay"
)

const promptLongDesc string = `Print the assembled prompt for a character without calling a model.

The entity seed (ENTITY_SEED_PATH) and memory store settings apply as
they do for serve.`

func newPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Inspect prompt assembly",
		Long:  promptLongDesc,
	}

	preview := &cobra.Command{
		Use:   "preview <character-id> [input]",
		Short: "Print the prompt a reply would be generated from",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPromptPreview,
	}
	preview.Flags().String("campaign", "", "Campaign id for campaign context")
	preview.Flags().String("rp-mode", "", "Content mode: family-friendly or lax")
	preview.Flags().Bool("gm", false, "Assemble as the Game Master")
	preview.Flags().String("gm-prompt", "", "Game Master instructions")
	cmd.AddCommand(preview)
	return cmd
}

func runPromptPreview(cmd *cobra.Command, args []string) error {
	campaignID, _ := cmd.Flags().GetString("campaign")
	rawMode, _ := cmd.Flags().GetString("rp-mode")
	gm, _ := cmd.Flags().GetBool("gm")
	gmPrompt, _ := cmd.Flags().GetString("gm-prompt")

	mode, err := policy.ParseMode(rawMode)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	store, err := app.OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	directory, err := app.OpenDirectory(cfg)
	if err != nil {
		return err
	}
	defer directory.Close()

	svc, err := roleplay.New(roleplay.Deps{
		Directory: directory,
		Store:     store,
		Completer: completion.NewDispatcher([]completion.Backend{completion.NewMockBackend()}, logger, nil),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	characterID := args[0]
	if gm && characterID == "-" {
		characterID = ""
	}
	system, err := svc.Preview(cmd.Context(), roleplay.Request{
		Actor:       actorFlag(cmd),
		CharacterID: characterID,
		UserInput:   strings.Join(args[1:], " "),
		Options: roleplay.Options{
			CampaignID:   campaignID,
			RPMode:       mode,
			IsGameMaster: gm,
			GMPrompt:     gmPrompt,
		},
	})
	if err != nil {
		return fmt.Errorf("preview prompt: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), system)
	return nil
}
