package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"callguard/pkg/errors"
	httpserver "callguard/pkg/http"
	"callguard/pkg/upload"
)

func newAnalyzeCommand() *cobra.Command {
	var mimeType string
	var save bool

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Analyze a recorded call and print the result",
		Long: `Analyze a recorded call with the upload model and print the scored result
as JSON. The result is added to the history like a dashboard upload unless
--save=false is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if mimeType == "" {
				mimeType = detectMIMEType(path, data)
			}

			store, closeStore, err := historyFor(save)
			if err != nil {
				return err
			}
			defer closeStore()

			analyzer := upload.NewAnalyzer(upload.Config{
				APIKey:  appConfig.Model.APIKey,
				APIURL:  appConfig.Model.APIURL,
				Model:   appConfig.Model.UploadModel,
				Timeout: appConfig.Model.UploadTimeout,
			}, store, nil, logger)

			entry, err := analyzer.Analyze(cmd.Context(), upload.File{
				Name:     filepath.Base(path),
				MIMEType: mimeType,
				Data:     data,
			})
			if err != nil {
				return fmt.Errorf("analysis failed: %s", errors.UserMessage(err))
			}

			return printJSON(cmd.OutOrStdout(), httpserver.HistoryItem{HistoryEntry: entry, RiskLevel: entry.Level()})
		},
	}

	cmd.Flags().StringVar(&mimeType, "mime-type", "", "MIME type of the file (detected when empty)")
	cmd.Flags().BoolVar(&save, "save", true, "Add the result to the history")
	return cmd
}

// detectMIMEType prefers the extension and falls back to content sniffing
func detectMIMEType(path string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
