package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lumen/internal/brain"
	"lumen/internal/device"
	"lumen/internal/logging"
)

var (
	contextPath string
	userID      string
	timeout     time.Duration
)

// processCmd handles one utterance and prints the response envelope as
// JSON, which makes it usable from scripts and the display firmware's
// shell hooks.
var processCmd = &cobra.Command{
	Use:   "process [text]",
	Short: "Process a single utterance and print the response as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		cfg, mon, store, err := bootstrap()
		if err != nil {
			return err
		}
		defer store.Close()

		raw := map[string]any{}
		if contextPath != "" {
			data, err := os.ReadFile(contextPath)
			if err != nil {
				return fmt.Errorf("read context: %w", err)
			}
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("parse context: %w", err)
			}
		}

		// One-shot runs have no device connections; commands are printed
		// rather than delivered.
		dispatcher := device.DispatcherFunc(func(env device.Envelope) device.DispatchResult {
			logging.S(logging.CategoryDevice).Infow("command (dry run)",
				"device", env.DeviceID, "type", env.CommandType, "command_id", env.CommandID)
			return device.DispatchResult{OK: true, CommandID: env.CommandID}
		})

		b := brain.Build(cfg, mon, store, dispatcher, nil, nil)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp := b.Process(ctx, text, userID, raw)

		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&contextPath, "context", "", "path to a JSON file with conversational context")
	processCmd.Flags().StringVar(&userID, "user", "cli", "user identifier")
	processCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall processing timeout")
}
