package batch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/breatheroute/aqibot/internal/airquality"
	"github.com/breatheroute/aqibot/internal/config"
	"github.com/breatheroute/aqibot/internal/mailer"
	"github.com/breatheroute/aqibot/internal/notify"
	"github.com/breatheroute/aqibot/internal/recipient"
	"github.com/breatheroute/aqibot/internal/telemetry"
)

// Renderer turns a notice into message bodies. *notify.Renderer implements it.
type Renderer interface {
	Render(n notify.Notice) (notify.Content, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RunnerConfig holds the collaborators and settings for a Runner.
type RunnerConfig struct {
	Provider airquality.Provider
	Renderer Renderer
	Sender   mailer.Sender
	Logger   zerolog.Logger

	// Out receives the operator progress lines. Defaults to io.Discard.
	Out io.Writer

	DefaultCity   string
	Pace          time.Duration
	FailurePolicy string

	// Optional; used by tests.
	Sleep SleepFunc
	Now   func() time.Time

	Tracer      trace.Tracer
	Instruments *telemetry.Instruments
}

// Runner notifies every recipient of a list, one at a time.
type Runner struct {
	provider     airquality.Provider
	renderer     Renderer
	sender       mailer.Sender
	logger       zerolog.Logger
	out          io.Writer
	defaultCity  string
	pace         time.Duration
	abortOnError bool
	sleep        SleepFunc
	now          func() time.Time
	tracer       trace.Tracer
	instruments  *telemetry.Instruments
}

// NewRunner creates a Runner. An empty failure policy means "continue".
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		provider:     cfg.Provider,
		renderer:     cfg.Renderer,
		sender:       cfg.Sender,
		logger:       cfg.Logger,
		out:          cfg.Out,
		defaultCity:  cfg.DefaultCity,
		pace:         cfg.Pace,
		abortOnError: cfg.FailurePolicy == config.FailurePolicyAbort,
		sleep:        cfg.Sleep,
		now:          cfg.Now,
		tracer:       cfg.Tracer,
		instruments:  cfg.Instruments,
	}
	if r.out == nil {
		r.out = io.Discard
	}
	if r.sleep == nil {
		r.sleep = sleepContext
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("")
	}
	return r
}

// Result summarizes a run.
type Result struct {
	RunID       string
	Total       int
	Sent        int
	Unavailable int
	Failed      int
	Failures    []*RecipientError
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Run loads the recipients from src and notifies each in list order,
// pausing between recipients. Under the abort policy the first failure
// stops the run and is returned as a *RecipientError. Under the continue
// policy failures are collected in the Result and Run returns nil.
func (r *Runner) Run(ctx context.Context, src recipient.Source) (*Result, error) {
	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
	}
	logger := r.logger.With().Str("run_id", result.RunID).Logger()

	recipients, err := src.Load(ctx)
	if err != nil {
		result.FinishedAt = r.now()
		return result, err
	}
	result.Total = len(recipients)

	logger.Info().
		Int("recipients", result.Total).
		Dur("pace", r.pace).
		Bool("abort_on_error", r.abortOnError).
		Msg("starting notification run")

	for i, rcpt := range recipients {
		if i > 0 {
			if err := r.sleep(ctx, r.pace); err != nil {
				return r.stopped(result, logger, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return r.stopped(result, logger, err)
		}

		unavailable, err := r.notify(ctx, logger, rcpt)
		if err != nil {
			if ctx.Err() != nil {
				return r.stopped(result, logger, ctx.Err())
			}

			kind := ErrorKind(err)
			rerr := &RecipientError{
				Row:   rcpt.Row,
				Name:  rcpt.Name,
				Email: mailer.RedactEmail(rcpt.Email),
				City:  rcpt.ResolveCity(r.defaultCity),
				Err:   err,
			}
			result.Failed++
			result.Failures = append(result.Failures, rerr)
			if r.instruments != nil {
				r.instruments.RecordFailed(ctx, kind)
			}

			logger.Error().Err(err).
				Str("kind", kind).
				Int("row", rcpt.Row).
				Str("to", rerr.Email).
				Msg("recipient failed")
			fmt.Fprintf(r.out, "Failed to contact %s (%s)\n", rcpt.Name, kind)

			if r.abortOnError {
				result.FinishedAt = r.now()
				return result, rerr
			}
			continue
		}

		result.Sent++
		if unavailable {
			result.Unavailable++
		}
		fmt.Fprintf(r.out, "Contacting %s...\n", rcpt.Name)
	}

	result.FinishedAt = r.now()
	if result.Failed > 0 {
		fmt.Fprintf(r.out, "All addresses contacted (%d failed)\n", result.Failed)
	} else {
		fmt.Fprintln(r.out, "All addresses contacted")
	}

	logger.Info().
		Dur("duration", result.Duration()).
		Int("sent", result.Sent).
		Int("unavailable", result.Unavailable).
		Int("failed", result.Failed).
		Msg("notification run completed")

	return result, nil
}

// notify runs the fetch, classify, render and send steps for one recipient.
// It reports whether the feed had no data for the city.
func (r *Runner) notify(ctx context.Context, logger zerolog.Logger, rcpt recipient.Recipient) (unavailable bool, err error) {
	city := rcpt.ResolveCity(r.defaultCity)

	ctx, span := r.tracer.Start(ctx, "aqibot.notify_recipient",
		trace.WithAttributes(
			attribute.Int("recipient.row", rcpt.Row),
			attribute.String("city", city),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorKind(err))
		}
		span.End()
	}()

	start := time.Now()
	reading, err := r.provider.Fetch(ctx, city)
	if r.instruments != nil {
		r.instruments.RecordFetch(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return false, err
	}

	category := airquality.Classify(reading)
	span.SetAttributes(
		attribute.String("aqi", reading.String()),
		attribute.String("category", string(category)),
	)

	content, err := r.renderer.Render(notify.Notice{
		Name:     rcpt.Name,
		City:     city,
		Reading:  reading,
		Category: category,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRender, err)
	}

	if err := r.sender.Send(ctx, mailer.Message{
		To:       rcpt.Email,
		ToName:   rcpt.Name,
		Subject:  notify.Subject(city, r.now()),
		HTMLBody: content.HTML,
		TextBody: content.Text,
	}); err != nil {
		return false, err
	}

	logger.Info().
		Int("row", rcpt.Row).
		Str("to", mailer.RedactEmail(rcpt.Email)).
		Str("city", city).
		Str("aqi", reading.String()).
		Str("category", string(category)).
		Msg("notification sent")

	unavailable = category == airquality.CategoryNoData
	if r.instruments != nil {
		r.instruments.RecordSent(ctx, city)
		if unavailable {
			r.instruments.RecordUnavailable(ctx, city)
		}
	}
	return unavailable, nil
}

func (r *Runner) stopped(result *Result, logger zerolog.Logger, err error) (*Result, error) {
	result.FinishedAt = r.now()
	logger.Warn().
		Err(err).
		Int("sent", result.Sent).
		Int("remaining", result.Total-result.Sent-result.Failed).
		Msg("notification run stopped")
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
