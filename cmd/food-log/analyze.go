// cmd/food-log/analyze.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mcp-food-log/pkg/client"
)

func newAnalyzeCommand() *cobra.Command {
	var serverURL, token string
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Submit a meal photo or voice note and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("FOODLOG_TOKEN")
			}

			c := client.New(serverURL,
				client.WithToken(token),
				client.WithPollInterval(interval),
			)
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			contentType := http.DetectContentType(data)
			var id string
			if isAudio(args[0], contentType) {
				id, err = c.SubmitAudio(ctx, data, audioType(args[0], contentType))
			} else {
				id, err = c.SubmitImage(ctx, data, contentType)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "submitted analysis %s\n", id)

			result, err := c.Poll(ctx, id)
			var failed *client.AnalysisFailedError
			if errors.As(err, &failed) {
				_ = writeJSON(cmd.OutOrStdout(), result)
				return err
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the food log API")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token (defaults to $FOODLOG_TOKEN)")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "Status polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "Give up after this long")
	return cmd
}

var audioExts = map[string]string{
	".webm": "audio/webm",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
}

func isAudio(name, sniffed string) bool {
	if strings.HasPrefix(sniffed, "audio/") {
		return true
	}
	_, ok := audioExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// audioType prefers the extension; sniffing reports webm voice notes as video.
func audioType(name, sniffed string) string {
	if t, ok := audioExts[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return sniffed
}
