package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-convert-tracker/internal/job"
	"github.com/tendant/simple-convert-tracker/internal/submitter"
)

var (
	submitMode  string
	submitWatch bool
	pollEvery   time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <file> [file...]",
	Short: "Upload one or more files for conversion",
	Long: `Uploads the given files. A single file uses the single-file endpoint and
several files are sent as one batch. With --watch the command follows progress
until every job finishes; Ctrl-C cancels the jobs still running.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sessionFrom(cmd.Context())
		if err != nil {
			return err
		}
		mode, err := resolveMode(s, submitMode)
		if err != nil {
			return err
		}

		inputs := make([]submitter.Input, 0, len(args))
		for _, path := range args {
			in, err := submitter.FileInput(path)
			if err != nil {
				return err
			}
			inputs = append(inputs, in)
		}

		return runSession(cmd.Context(), s, func(ctx context.Context) ([]string, error) {
			jobs, err := s.tracker.Submit(ctx, inputs, mode)
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(jobs))
			for _, d := range jobs {
				ids = append(ids, d.ID)
			}
			return ids, nil
		})
	},
}

var urlCmd = &cobra.Command{
	Use:   "url <url>",
	Short: "Convert a web page or media URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sessionFrom(cmd.Context())
		if err != nil {
			return err
		}
		mode, err := resolveMode(s, submitMode)
		if err != nil {
			return err
		}
		return runSession(cmd.Context(), s, func(ctx context.Context) ([]string, error) {
			d, err := s.tracker.SubmitURL(ctx, args[0], mode)
			if err != nil {
				return nil, err
			}
			return []string{d.ID}, nil
		})
	},
}

func resolveMode(s *session, flag string) (job.Mode, error) {
	if flag == "" {
		return s.cfg.Mode, nil
	}
	return job.ParseMode(flag)
}

// runSession starts the tracker, submits, and optionally watches the jobs
// until they finish or the user interrupts.
func runSession(parent context.Context, s *session, submit func(ctx context.Context) ([]string, error)) error {
	runCtx, stop := context.WithCancel(parent)
	defer stop()
	runDone := make(chan error, 1)
	go func() { runDone <- s.tracker.Run(runCtx) }()
	defer func() {
		stop()
		<-runDone
	}()

	sigCtx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	ids, err := submit(sigCtx)
	if err != nil {
		return err
	}
	if !submitWatch {
		renderJobs(os.Stdout, s.tracker.List())
		return nil
	}

	interrupted := watch(sigCtx, s, ids)
	if interrupted {
		fmt.Fprintln(os.Stderr, "interrupted, cancelling running jobs")
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.tracker.CancelAll(cctx); err != nil {
			s.logger.Warn("some jobs could not be cancelled", "err", err)
		}
	}

	renderJobs(os.Stdout, s.tracker.List())
	renderSummary(os.Stdout, s.tracker.Summary(), s.tracker.StreamStatus())

	for _, id := range ids {
		if d, err := s.tracker.Get(id); err == nil && d.Status == job.StatusFailed {
			return errors.New("one or more conversions failed")
		}
	}
	return nil
}

// watch polls until every id is terminal. It reports whether ctx ended first.
func watch(ctx context.Context, s *session, ids []string) bool {
	every := pollEvery
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := map[string]string{}
	warned := false
	for {
		done := true
		for _, id := range ids {
			d, err := s.tracker.Get(id)
			if err != nil {
				continue
			}
			state := fmt.Sprintf("%s|%d|%s|%t", d.Status, d.ProgressPercent, d.CurrentStep, d.Stalled)
			if last[id] != state {
				last[id] = state
				fmt.Fprintf(os.Stderr, "%-24s %s %3d%% %s\n", d.InputRef, statusLabel(d), d.ProgressPercent, d.CurrentStep)
			}
			if !d.Terminal() {
				done = false
			}
		}
		if done {
			return false
		}
		if st := s.tracker.StreamStatus(); st.ProgressUnavailable && !warned {
			warned = true
			fmt.Fprintln(os.Stderr, "progress unavailable, still waiting for completion")
		}
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, urlCmd} {
		c.Flags().StringVarP(&submitMode, "mode", "m", "", "conversion mode: standard or ai_enhanced (default from CONVERT_MODE)")
		c.Flags().BoolVarP(&submitWatch, "watch", "w", true, "follow progress until every job finishes")
		c.Flags().DurationVar(&pollEvery, "poll", 500*time.Millisecond, "refresh interval while watching")
		rootCmd.AddCommand(c)
	}
}
