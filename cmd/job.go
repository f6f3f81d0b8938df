package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpaktrust/mpak-scanner/internal/core"
	"github.com/mpaktrust/mpak-scanner/internal/job"
)

// NewJobCommand returns the batch-mode command run by the scan Kubernetes Job.
func NewJobCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Scan a bundle from S3 and report back to a callback URL",
		Long: `Job runs one scan described entirely by the environment:

  BUNDLE_S3_BUCKET, BUNDLE_S3_KEY   bundle to scan
  SCAN_ID                           id echoed in the callback
  CALLBACK_URL                      receives the completed/failed payload
  RESULT_S3_BUCKET, RESULT_S3_PREFIX
                                    report goes to <prefix><scan_id>/report.json
  CALLBACK_SECRET                   optional, sent as X-Callback-Secret
  AWS_REGION                        default us-east-1

Logs are JSON unless log_format is configured.`,
		Args:        usageArgs(cobra.NoArgs),
		Annotations: map[string]string{"log_format": "json"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJob(ctx, app, os.LookupEnv, func(ctx context.Context, region string) (job.BlobStore, error) {
				return job.NewS3Store(ctx, region)
			})
		},
	}
	return cmd
}

type storeFactory func(ctx context.Context, region string) (job.BlobStore, error)

func runJob(ctx context.Context, app *App, lookup func(string) (string, bool), newStore storeFactory) error {
	env, err := job.EnvFromLookup(lookup)
	if err != nil {
		return &core.InvalidArgumentsError{Message: err.Error()}
	}

	store, err := newStore(ctx, env.Region)
	if err != nil {
		return err
	}

	engine := app.NewEngine(nil, 0)
	return job.NewRunner(store, engine, app.Log).Run(ctx, env)
}
