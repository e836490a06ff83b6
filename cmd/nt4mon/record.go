package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/nab138/nt4go/pkg/history"
	"github.com/nab138/nt4go/pkg/nt4"
	"github.com/nab138/nt4go/pkg/protocol"
	"github.com/nab138/nt4go/pkg/replay"
)

func recordCmd() *cobra.Command {
	var (
		port     int
		name     string
		prefixes []string
		duration time.Duration
		limit    int
		output   string
		bucket   string
		s3Prefix string
		region   string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "record <host>",
		Short: "Record value updates and export a snapshot",
		Long: `Subscribe to topics under the given prefixes and record every
value update, ordered by server timestamp. When the duration elapses
(or on interrupt) the recording is exported as a JSON snapshot, either
to a local file or to an S3 bucket.

S3 export reads credentials from the usual AWS environment variables.

Examples:
  nt4mon record 10.0.0.2 --duration=2m30s --output=match.json
  nt4mon record 10.0.0.2 --bucket=nt4-recordings --s3-prefix=matches/ --region=us-east-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" && bucket == "" {
				return errors.New("one of --output or --bucket is required")
			}
			return runRecord(args[0], recordOptions{
				port:     port,
				name:     name,
				prefixes: prefixes,
				duration: duration,
				limit:    limit,
				output:   output,
				bucket:   bucket,
				s3Prefix: s3Prefix,
				region:   region,
				verbose:  verbose,
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", nt4.DefaultPort, "Server WebSocket port")
	cmd.Flags().StringVarP(&name, "name", "n", "nt4mon", "Client name for the endpoint path")
	cmd.Flags().StringSliceVar(&prefixes, "prefix", []string{"/"}, "Topic name prefixes to subscribe to")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Recording length (0 = until interrupted)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max samples kept per topic (0 = unbounded)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Snapshot file path")
	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket for snapshot upload")
	cmd.Flags().StringVar(&s3Prefix, "s3-prefix", "", "S3 key prefix")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "S3 region")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log per-frame detail")

	return cmd
}

type recordOptions struct {
	port     int
	name     string
	prefixes []string
	duration time.Duration
	limit    int
	output   string
	bucket   string
	s3Prefix string
	region   string
	verbose  bool
}

func runRecord(host string, opts recordOptions) error {
	logger := newLogger(opts.verbose)

	var storeOpts []history.Option
	if opts.limit > 0 {
		storeOpts = append(storeOpts, history.WithLimit(opts.limit))
	}
	store := history.NewStore(storeOpts...)

	client := nt4.New(host, opts.name,
		nt4.WithPort(opts.port),
		nt4.WithLogger(logger),
	)
	client.OnValue(store.Sink())

	session := replay.New(client, replay.WithLogger(logger))
	if _, err := session.Subscribe(opts.prefixes, protocol.SubscriptionOptions{Prefix: true, All: true}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	if err := session.Run(ctx); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	logger.Info("recording finished", "topics", len(store.Topics()))

	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := store.WriteSnapshot(f, time.Now()); err != nil {
			return err
		}
		logger.Info("snapshot written", "path", opts.output)
	}

	if opts.bucket != "" {
		exporter := history.NewS3Exporter(newS3Client(opts.region), opts.bucket, opts.s3Prefix)
		exportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		key, err := exporter.Export(exportCtx, store)
		if err != nil {
			return err
		}
		logger.Info("snapshot uploaded", "bucket", opts.bucket, "key", key)
	}
	return nil
}

// newS3Client builds a client from the standard AWS environment variables.
func newS3Client(region string) *s3.Client {
	return s3.New(s3.Options{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			}, nil
		}),
	})
}
