package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/taleweaver/internal/app"
	"github.com/ent0n29/taleweaver/internal/campaign"
	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/recall"
)

const memoryLongDesc string = `Inspect and edit a character's memory log in the configured store.

Examples:
  taleweaver memory add aria "I dislike spiders" --type PREFERENCE --importance 8
  taleweaver memory recall aria "tell me about spiders"
  taleweaver memory recall aria "what now" --campaign heist`

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage character memories",
		Long:  memoryLongDesc,
	}
	cmd.AddCommand(newMemoryAddCmd(), newMemoryListCmd(), newMemoryRmCmd(), newMemoryRecallCmd())
	return cmd
}

func openStore(cmd *cobra.Command) (memory.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.OpenStore(cmd.Context(), cfg, app.NewLogger(cfg))
}

func newMemoryAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <character-id> <content>",
		Short: "Append a memory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			importance, _ := cmd.Flags().GetInt("importance")
			campaignID, _ := cmd.Flags().GetString("campaign")

			content := strings.TrimSpace(strings.Join(args[1:], " "))
			if campaignID != "" {
				content = campaign.Tag(campaignID, content)
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Add(cmd.Context(), args[0], content, memory.ParseType(typ), importance)
			if err != nil {
				return fmt.Errorf("add memory: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().String("type", string(memory.TypeFact), "Memory type, e.g. FACT, EVENT, PREFERENCE")
	cmd.Flags().Int("importance", memory.DefaultImportance, "Importance 1-10")
	cmd.Flags().String("campaign", "", "Tag the memory with a campaign id")
	return cmd
}

func newMemoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <character-id>",
		Short: "List a character's memories in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list memories: %w", err)
			}
			if records == nil {
				records = []memory.Record{}
			}
			return writeJSON(cmd.OutOrStdout(), records)
		},
	}
}

func newMemoryRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <character-id> [memory-id]",
		Short: "Delete one memory, or all of them with --all",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if !all && len(args) != 2 {
				return fmt.Errorf("memory id is required unless --all is set")
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if all {
				if err := store.DeleteAll(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("delete memories: %w", err)
				}
				fmt.Fprintf(out, `{"ok":true,"characterId":%q}`+"\n", args[0])
				return nil
			}
			found, err := store.Delete(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("delete memory: %w", err)
			}
			if !found {
				return fmt.Errorf("memory %q not found for %q", args[1], args[0])
			}
			fmt.Fprintf(out, `{"ok":true,"characterId":%q,"id":%q}`+"\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Delete every memory of the character")
	return cmd
}

func newMemoryRecallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall <character-id> [query]",
		Short: "Show the memories a reply would be given",
		Long: `Without a query the most important memories are shown.
With --campaign the campaign-scoped block is printed instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			minScore, _ := cmd.Flags().GetFloat64("min-score")
			campaignID, _ := cmd.Flags().GetString("campaign")
			asJSON, _ := cmd.Flags().GetBool("json")
			query := strings.Join(args[1:], " ")

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			retriever := campaign.NewRetriever(store)

			out := cmd.OutOrStdout()
			if campaignID != "" {
				fmt.Fprintln(out, campaign.NewEnricher(retriever).Memories(cmd.Context(), args[0], campaignID, query))
				return nil
			}

			var items []recall.Scored
			if strings.TrimSpace(query) == "" {
				items = retriever.Personality(cmd.Context(), args[0], limit)
			} else {
				items = retriever.Retrieve(cmd.Context(), args[0], query, limit, minScore)
			}
			if asJSON {
				if items == nil {
					items = []recall.Scored{}
				}
				return writeJSON(out, items)
			}
			fmt.Fprintln(out, recall.FormatLines(items, time.Now()))
			return nil
		},
	}
	cmd.Flags().Int("limit", recall.DefaultLimit, "Maximum memories returned")
	cmd.Flags().Float64("min-score", recall.DefaultMinScore, "Minimum relevance score in [0,1]")
	cmd.Flags().String("campaign", "", "Campaign id for the campaign-scoped view")
	cmd.Flags().Bool("json", false, "Print scored records as JSON")
	return cmd
}
