package application

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const spanPrefix = "UC."

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// Instrument holds the RED instruments shared by the use cases of one service.
type Instrument struct {
	tracer  observability.Tracer
	log     observability.Logger
	metrics observability.Metrics

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

// NewInstrument binds the service name into the base logger. A nil tel records nothing.
func NewInstrument(tel observability.Observability, service string) *Instrument {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Instrument{
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", service)),
		metrics:      tel.Metrics(),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (in *Instrument) Logger() observability.Logger { return in.log }

// Metrics exposes the backend for instruments beyond the RED pair.
func (in *Instrument) Metrics() observability.Metrics { return in.metrics }

// Start opens span UC.<name> and returns a Call that must be ended exactly once.
// The returned context carries the call logger.
func (in *Instrument) Start(ctx context.Context, useCase, name string, attrs ...attribute.KeyValue) (context.Context, *Call) {
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.tracer.Start(ctx, spanPrefix+name, attrs...)

	ctx, logger := logctx.Enrich(ctx, in.log, observability.F("use_case", useCase))

	return ctx, &Call{
		in:      in,
		useCase: useCase,
		span:    span,
		log:     logger,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

// Call tracks one use case execution.
type Call struct {
	in      *Instrument
	useCase string
	span    trace.Span
	log     observability.Logger
	start   time.Time
	outcome string
	status  string
	fields  []observability.Field
}

func (c *Call) Span() trace.Span             { return c.span }
func (c *Call) Logger() observability.Logger { return c.log }

// Fail marks the call as failed with a SCREAMING_SNAKE status.
func (c *Call) Fail(status string) {
	c.outcome, c.status = "error", status
}

// Status overrides the status text without changing the outcome.
func (c *Call) Status(status string) {
	c.status = status
}

// Field adds a field to the final use_case_done line.
func (c *Call) Field(key string, value any) {
	c.fields = append(c.fields, observability.F(key, value))
}

// End records metrics, closes the span and writes use_case_done.
func (c *Call) End(err error) {
	if err != nil && c.outcome != "error" {
		c.outcome = "error"
		if c.status == "OK" {
			c.status = "ERROR"
		}
	}
	lat := time.Since(c.start).Seconds()

	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, c.status)
	} else {
		c.span.SetStatus(codes.Ok, c.status)
	}
	c.span.End()

	c.in.reqCounter.Add(1,
		observability.L("use_case", c.useCase),
		observability.L("outcome", c.outcome),
	)
	c.in.durHistogram.Observe(lat, observability.L("use_case", c.useCase))

	fields := append([]observability.Field{
		observability.F("outcome", c.outcome),
		observability.F("status", c.status),
		observability.F("latency_seconds", lat),
	}, c.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	c.log.Info("use_case_done", fields...)
}
