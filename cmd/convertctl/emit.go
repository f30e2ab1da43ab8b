package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-convert-tracker/internal/bus"
	"github.com/tendant/simple-convert-tracker/pkg/schema"
)

var (
	emitProgress int
	emitStep     string
	emitStatus   string
	emitComplete bool
	emitFail     string
	emitOutput   string
	emitSeconds  float64
)

// emitCmd publishes a hand-made progress frame, for exercising a running
// session against a local NATS server.
var emitCmd = &cobra.Command{
	Use:   "emit <correlation-key>",
	Short: "Publish a progress or completion frame to the progress subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sessionFrom(cmd.Context())
		if err != nil {
			return err
		}
		frame := buildFrame(args[0], cmd.Flags().Changed("progress"))

		nc, err := bus.Connect(s.cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect %s: %w", s.cfg.NATSURL, err)
		}
		defer nc.Close()
		if err := nc.PublishJSON(s.cfg.ProgressSubject, frame); err != nil {
			return fmt.Errorf("publish frame: %w", err)
		}
		s.logger.Info("frame published", "subject", s.cfg.ProgressSubject, "correlation_key", frame.CorrelationKey, "type", frame.Type)
		return nil
	},
}

func buildFrame(key string, withProgress bool) schema.ProgressFrame {
	now := float64(time.Now().UnixMilli()) / 1000
	frame := schema.ProgressFrame{CorrelationKey: key, Timestamp: &now}
	if emitComplete || emitFail != "" {
		ok := emitFail == ""
		frame.Type = schema.FrameCompletion
		frame.Success = &ok
		frame.ErrorMessage = emitFail
		frame.OutputFile = emitOutput
		if emitSeconds > 0 {
			secs := emitSeconds
			frame.ProcessingTime = &secs
		}
		return frame
	}
	frame.Type = schema.FrameProgress
	frame.Status = emitStatus
	frame.CurrentStep = emitStep
	if withProgress {
		p := emitProgress
		frame.Progress = &p
	}
	return frame
}

func init() {
	emitCmd.Flags().IntVar(&emitProgress, "progress", 0, "progress percentage")
	emitCmd.Flags().StringVar(&emitStep, "step", "", "current step label")
	emitCmd.Flags().StringVar(&emitStatus, "status", "", "backend status label, e.g. cancelled")
	emitCmd.Flags().BoolVar(&emitComplete, "complete", false, "send a successful completion")
	emitCmd.Flags().StringVar(&emitFail, "fail", "", "send a failed completion with this error message")
	emitCmd.Flags().StringVar(&emitOutput, "output", "", "output file for completions")
	emitCmd.Flags().Float64Var(&emitSeconds, "seconds", 0, "processing time in seconds for completions")
	rootCmd.AddCommand(emitCmd)
}
