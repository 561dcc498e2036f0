package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"callguard/pkg/history"
	httpserver "callguard/pkg/http"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear the analysis history",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print saved analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openHistory(appConfig.History)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			resp := httpserver.HistoryResponse{Entries: make([]httpserver.HistoryItem, 0, len(entries)), Count: len(entries)}
			for _, entry := range entries {
				resp.Entries = append(resp.Entries, httpserver.HistoryItem{HistoryEntry: entry, RiskLevel: entry.Level()})
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every saved analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openHistory(appConfig.History)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
			return nil
		},
	})

	return cmd
}

// historyFor opens the configured history, or a throwaway store when the
// result should not be kept
func historyFor(save bool) (history.Store, func() error, error) {
	if !save {
		return history.NewMemoryStore(), func() error { return nil }, nil
	}
	return openHistory(appConfig.History)
}
