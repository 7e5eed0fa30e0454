package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/soga/internal/llm"
)

// InstrumentedProvider wraps an llm.Provider with metrics and tracing.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider).Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

var _ llm.Provider = (*InstrumentedProvider)(nil)
