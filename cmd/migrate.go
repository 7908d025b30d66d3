package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/moeacgx/TelegramAutoClone/internal/config"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("load config", "error", err)
				os.Exit(1)
			}
			st, err := store.Open(cfg.DatabasePath)
			if err != nil {
				slog.Error("open database", "error", err)
				os.Exit(1)
			}
			st.Close()
			fmt.Printf("database ready at %s\n", cfg.DatabasePath)
		},
	}
}
