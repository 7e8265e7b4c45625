package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/breatheroute/aqibot/internal/airquality/waqi"
	"github.com/breatheroute/aqibot/internal/batch"
	"github.com/breatheroute/aqibot/internal/config"
	"github.com/breatheroute/aqibot/internal/mailer"
	"github.com/breatheroute/aqibot/internal/notify"
	"github.com/breatheroute/aqibot/internal/recipient"
	"github.com/breatheroute/aqibot/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "aqibot"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// errIncomplete reports that some recipients were not notified.
var errIncomplete = errors.New("run incomplete")

// usageError marks bad flags or arguments.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

type options struct {
	envFile       string
	recipients    string
	failurePolicy string
	dryRun        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		// cobra falls back to os.Args on nil.
		args = []string{}
	}
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitCode(err)
}

// exitCode is 2 for anything fixable before a run starts: flags,
// configuration and the recipient list. Everything else is 1.
func exitCode(err error) int {
	var (
		usageErr *usageError
		cfgErr   *config.ConfigError
		inputErr *recipient.InputError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usageErr), errors.As(err, &cfgErr), errors.As(err, &inputErr):
		return exitUsage
	default:
		return exitFailed
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Email today's air quality to everyone on the mailing list",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, opts, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.Flags()
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading the environment")
	flags.StringVar(&opts.recipients, "recipients", "", "recipient list (.csv or .xlsx); overrides RECIPIENTS_FILE")
	flags.StringVar(&opts.failurePolicy, "failure-policy", "", "abort or continue; overrides FAILURE_POLICY")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "write messages to stdout instead of sending them")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (built %s)\n", serviceName, Version, BuildTime)
		},
	})

	return root
}

func run(ctx context.Context, cmd *cobra.Command, opts *options, stdout, stderr io.Writer) error {
	cfg, err := config.Load(config.LoadOptions{EnvFile: opts.envFile})
	if err != nil {
		return err
	}
	if opts.recipients != "" {
		cfg.Batch.RecipientsFile = opts.recipients
	}
	if cmd.Flags().Changed("failure-policy") {
		switch opts.failurePolicy {
		case config.FailurePolicyAbort, config.FailurePolicyContinue:
			cfg.Batch.FailurePolicy = opts.failurePolicy
		default:
			return &usageError{err: fmt.Errorf("invalid --failure-policy %q: want %s or %s",
				opts.failurePolicy, config.FailurePolicyAbort, config.FailurePolicyContinue)}
		}
	}

	log := newLogger(cfg, stderr)
	log.Info().
		Str("build_time", BuildTime).
		Str("recipients_file", cfg.Batch.RecipientsFile).
		Bool("dry_run", opts.dryRun).
		Msg("starting aqibot")

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	instruments, err := telemetry.NewInstruments(tp.Meter)
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	renderer, err := notify.NewRenderer(notify.RendererConfig{
		DetailsURL:     cfg.Batch.DetailsURL,
		ContactAddress: cfg.SMTP.SenderAddress,
	})
	if err != nil {
		return err
	}

	mailCfg := mailer.Config{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.SenderAddress,
		Password:    cfg.SMTP.SenderPassword.Unmask(),
		FromAddress: cfg.SMTP.SenderAddress,
		FromName:    cfg.SMTP.SenderName,
		Timeout:     cfg.SMTP.Timeout,
		Logger:      log,
	}
	var sender mailer.Sender = mailer.New(mailCfg)
	if opts.dryRun {
		sender = mailer.NewDryRunSender(mailCfg, stdout)
	}

	runner := batch.NewRunner(batch.RunnerConfig{
		Provider: waqi.NewClient(waqi.ClientConfig{
			BaseURL: cfg.WAQI.BaseURL,
			Token:   cfg.WAQI.Token.Unmask(),
			Timeout: cfg.WAQI.Timeout,
			Logger:  log,
		}),
		Renderer:      renderer,
		Sender:        sender,
		Logger:        log,
		Out:           stdout,
		DefaultCity:   cfg.Batch.DefaultCity,
		Pace:          cfg.Batch.PaceInterval,
		FailurePolicy: cfg.Batch.FailurePolicy,
		Tracer:        tp.Tracer,
		Instruments:   instruments,
	})

	result, err := runner.Run(ctx, recipient.FileSource{Path: cfg.Batch.RecipientsFile})
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if flushErr := tp.Flush(flushCtx); flushErr != nil {
		log.Warn().Err(flushErr).Msg("failed to flush telemetry")
	}
	cancel()
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%w: %d of %d recipients failed", errIncomplete, result.Failed, result.Total)
	}
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.Environment == "local" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}
