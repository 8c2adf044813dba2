package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

const jobPollInterval = 500 * time.Millisecond

type crawlFlags struct {
	connection string
	specFile   string
	continuous bool
}

// newCrawlCmd runs one job in-process and waits for it to finish.
func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl job against a connection and waits for it",
		Long: `Submits a job for --connection using the document specification in
--spec-file (JSON), runs it on the local workers and prints the counters when
it ends. Interrupting the command cancels the job.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.connection, "connection", "", "connection name")
	cmd.Flags().StringVar(&f.specFile, "spec-file", "", "document specification file (JSON)")
	cmd.Flags().BoolVar(&f.continuous, "continuous", false, "run the connector in continuous mode")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}

func readSpecFile(path string) (crawler.DocumentSpec, error) {
	var spec crawler.DocumentSpec
	if path == "" {
		return spec, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read spec file: %w", err)
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse spec file %s: %w", path, err)
	}
	return spec, nil
}

func runCrawl(cmd *cobra.Command, f crawlFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	spec, err := readSpecFile(f.specFile)
	if err != nil {
		return err
	}
	params := crawler.JobParameters{Connection: f.connection, Spec: spec}
	if f.continuous {
		params.Mode = crawler.JobModeContinuous
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go a.Dispatcher.Run(ctx)

	job, err := a.Jobs.Submit(ctx, params)
	if err != nil {
		return err
	}
	a.Logger.Info("crawl started", zap.String("job_id", job.ID), zap.String("connection", f.connection))

	job, err = waitForJob(ctx, a.Jobs, job.ID)
	if errors.Is(err, context.Canceled) {
		canceled, cerr := a.Jobs.Cancel(context.WithoutCancel(ctx), job.ID)
		if cerr == nil {
			job = canceled
		}
	} else if err != nil {
		return err
	}
	printJob(cmd, job)
	if job.Status == crawler.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.ErrorText)
	}
	return nil
}

type jobGetter interface {
	Get(ctx context.Context, jobID string) (crawler.Job, error)
}

func waitForJob(ctx context.Context, jobs jobGetter, jobID string) (crawler.Job, error) {
	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()
	for {
		job, err := jobs.Get(context.WithoutCancel(ctx), jobID)
		if err != nil {
			return crawler.Job{ID: jobID}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(cmd *cobra.Command, job crawler.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s %s\n", job.ID, job.Status)
	if job.Started != nil && job.Finished != nil {
		fmt.Fprintf(out, "  elapsed   %s\n", job.Finished.Sub(*job.Started).Round(time.Millisecond))
	}
	c := job.Counters
	fmt.Fprintf(out, "  seeded    %s\n", humanize.Comma(int64(c.DocumentsSeeded)))
	fmt.Fprintf(out, "  ingested  %s\n", humanize.Comma(int64(c.DocumentsIngested)))
	fmt.Fprintf(out, "  deleted   %s\n", humanize.Comma(int64(c.DocumentsDeleted)))
	fmt.Fprintf(out, "  skipped   %s\n", humanize.Comma(int64(c.DocumentsSkipped)))
	fmt.Fprintf(out, "  retries   %s\n", humanize.Comma(int64(c.Retries)))
	if job.ErrorText != "" {
		fmt.Fprintf(out, "  error     %s\n", job.ErrorText)
	}
}
