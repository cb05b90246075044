// Package cli is the sendqueue command line.
//
//	sendqueue serve              run triggers, API and metrics until signalled
//	sendqueue run --limit 25     one worker pass, summary on stdout
//	sendqueue enqueue ...        enqueue one job, or one per CSV row with --csv
//	sendqueue reap               return stale claims to pending
//	sendqueue migrate            apply database migrations
//
// Configuration comes from the environment; --memory swaps the Postgres store
// for an in-process one.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"SendQueue/internal/app"
	"SendQueue/internal/config"
	"SendQueue/internal/csvparser"
	"SendQueue/internal/models"
	"SendQueue/internal/worker"
)

type options struct {
	memory bool
}

func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "sendqueue",
		Short:         "SendQueue: asynchronous outbound email delivery",
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&opts.memory, "memory", false, "use the in-memory job store")

	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildEnqueueCommand(opts))
	rootCmd.AddCommand(buildReapCommand(opts))
	rootCmd.AddCommand(buildMigrateCommand(opts))

	return rootCmd
}

func setup(ctx context.Context, opts *options) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.memory {
		cfg.MemoryStore = true
	}

	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func buildServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the periodic trigger, HTTP API and metrics server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Config.Validate(); err != nil {
				a.Log.Warn("configuration incomplete; worker passes will be refused", zap.Error(err))
			}
			if err := a.Migrate(ctx); err != nil {
				return err
			}
			return a.Serve(ctx)
		},
	}
}

func buildRunCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single worker pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if limit == 0 {
				limit = a.Config.BatchLimit
			}

			sum, err := a.Processor.Run(cmd.Context(), limit)
			if err != nil {
				if worker.IsConfig(err) {
					return fmt.Errorf("refusing to run: %w", err)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"processed=%d sent=%d retried=%d failed=%d skipped=%d duration=%s\n",
				sum.Processed, sum.Sent, sum.Retried, sum.Failed, sum.Skipped, sum.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "max jobs to process (clamped to 1..25; default BATCH_LIMIT)")
	return cmd
}

func buildEnqueueCommand(opts *options) *cobra.Command {
	var (
		to, subject, text, html string
		sender, replyTo, tag    string
		delay                   time.Duration
		csvPath                 string
		maxRows                 int
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue one email, or one per row of a CSV file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var jobs []*models.EmailJob

			switch {
			case csvPath != "":
				f, err := os.Open(csvPath)
				if err != nil {
					return err
				}
				defer f.Close()

				rows, err := csvparser.ParseRecipients(f, maxRows)
				if err != nil {
					return err
				}
				jobs, err = csvparser.Template{
					Subject:         subject,
					Text:            text,
					HTML:            html,
					SenderOverride:  sender,
					ReplyToOverride: replyTo,
					Tag:             tag,
				}.Jobs(rows)
				if err != nil {
					return err
				}
			case to != "":
				job := models.NewEmailJob(to, subject, models.Body{Text: text, HTML: html})
				job.SenderOverride = sender
				job.ReplyToOverride = replyTo
				job.Tag = tag
				jobs = append(jobs, job)
			default:
				return errors.New("either --to or --csv is required")
			}

			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var sendAfter *time.Time
			if delay > 0 {
				t := time.Now().UTC().Add(delay)
				sendAfter = &t
			}

			for _, job := range jobs {
				job.SendAfter = sendAfter
				id, err := a.Store.Enqueue(cmd.Context(), job)
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", job.Recipient, err)
				}
				if csvPath == "" {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
			}
			if csvPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d jobs\n", len(jobs))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&to, "to", "", "recipient address")
	f.StringVarP(&subject, "subject", "s", "", "subject (a template with --csv)")
	f.StringVar(&text, "text", "", "plain text body (a template with --csv)")
	f.StringVar(&html, "html", "", "html body (a template with --csv)")
	f.StringVar(&sender, "sender", "", "sender override")
	f.StringVar(&replyTo, "reply-to", "", "reply-to override")
	f.StringVar(&tag, "tag", "", "provider tag")
	f.DurationVar(&delay, "delay", 0, "do not send before now+delay")
	f.StringVarP(&csvPath, "csv", "f", "", "CSV file with an Email column")
	f.IntVar(&maxRows, "max-rows", csvparser.DefaultMaxRows, "max CSV rows to import")

	return cmd
}

func buildReapCommand(opts *options) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Return jobs stuck in sending to pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if olderThan <= 0 {
				olderThan = a.Config.ClaimTimeout
			}
			now := time.Now().UTC()
			n, err := a.Store.ReapStale(cmd.Context(), now.Add(-olderThan), now)
			if err != nil {
				return err
			}
			a.Metrics.Reaped(n)

			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d jobs\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "claim age to treat as stale (default CLAIM_TIMEOUT)")
	return cmd
}

func buildMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
