// Package cli implements the taleweaver commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ent0n29/taleweaver/internal/config"
	"github.com/ent0n29/taleweaver/internal/entity"
)

const rootLongDesc string = `Character memory, context retrieval and multi-character turns
for roleplay chat and campaigns.

Settings come from the environment (APP_*, MEMORY_*, ENTITY_*,
COMPLETION_*, ANTHROPIC_*). Flags override individual values.`

// NewRootCmd returns a fresh command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taleweaver",
		Short:         "Roleplay memory and turn engine",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("actor", "local", "Actor id used for entity visibility")
	cmd.PersistentFlags().String("log-level", "", "Log level override: debug, info, warn, error")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMemoryCmd())
	cmd.AddCommand(newPromptCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, nil
}

func actorFlag(cmd *cobra.Command) entity.Actor {
	id, _ := cmd.Flags().GetString("actor")
	return entity.Actor{ID: id}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
