package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lumen/internal/brain"
	"lumen/internal/layout/pipeline"
)

var (
	feedbackPath string
	refineOut    string
)

// reviewFeedback is the on-disk shape of an operator's review notes.
type reviewFeedback struct {
	Elements []pipeline.ElementFeedback `json:"elements"`
	Global   string                     `json:"global,omitempty"`
}

// refineCmd reworks a generated layout from human review notes instead of
// another sandbox round: broken elements get fixed, working ones stay.
var refineCmd = &cobra.Command{
	Use:   "refine [html-file]",
	Short: "Rework a generated layout from reviewer feedback",
	Long: `refine applies an operator's per-element review notes to a generated
layout. The feedback file is JSON:

  {
    "elements": [
      {"index": 1, "selector": "#start", "status": "broken",
       "user_feedback": "nothing happens on click"}
    ],
    "global": "make the buttons larger"
  }

Elements marked "ok" are left untouched. The rewritten document passes
script-safety checks only; the reviewer has already judged the rendering.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, mon, store, err := bootstrap()
		if err != nil {
			return err
		}
		defer store.Close()

		doc, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read layout: %w", err)
		}
		fbData, err := os.ReadFile(feedbackPath)
		if err != nil {
			return fmt.Errorf("read feedback: %w", err)
		}
		var fb reviewFeedback
		if err := json.Unmarshal(fbData, &fb); err != nil {
			return fmt.Errorf("parse feedback: %w", err)
		}

		repairer := brain.BuildFeedbackRepairer(cfg, mon, store)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		res := repairer.Repair(ctx, string(doc), fb.Elements, fb.Global)
		if !res.OK {
			return fmt.Errorf("refine failed: %s", res.Error)
		}

		if refineOut == "" {
			fmt.Println(res.HTML)
			return nil
		}
		if err := os.WriteFile(refineOut, []byte(res.HTML), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("wrote %s\n", refineOut)
		return nil
	},
}

func init() {
	refineCmd.Flags().StringVar(&feedbackPath, "feedback", "", "path to the JSON review notes (required)")
	refineCmd.Flags().StringVar(&refineOut, "out", "", "write the result here instead of stdout")
	_ = refineCmd.MarkFlagRequired("feedback")
}
