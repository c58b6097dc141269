package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lumen/internal/brain"
	"lumen/internal/device"
	"lumen/internal/logging"
)

// statsCmd processes the given utterances and prints the session's
// monitor aggregates instead of the response envelopes. Handy for
// checking what a prompt costs before wiring it into the display.
var statsCmd = &cobra.Command{
	Use:   "stats [text...]",
	Short: "Process utterances and print model usage aggregates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, mon, store, err := bootstrap()
		if err != nil {
			return err
		}
		defer store.Close()

		dispatcher := device.DispatcherFunc(func(env device.Envelope) device.DispatchResult {
			logging.S(logging.CategoryDevice).Infow("command (dry run)",
				"device", env.DeviceID, "type", env.CommandType, "command_id", env.CommandID)
			return device.DispatchResult{OK: true, CommandID: env.CommandID}
		})
		b := brain.Build(cfg, mon, store, dispatcher, nil, nil)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		for _, text := range args {
			resp := b.Process(ctx, text, "stats", nil)
			marker := "ok"
			if !resp.OK {
				marker = "error"
			}
			fmt.Printf("%s  %q\n", marker, truncateLine(text, 60))
		}

		fmt.Println(renderStats(mon))
		return nil
	},
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
