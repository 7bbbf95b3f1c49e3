package geo

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomasB/geolocator/internal/geoerr"
	"github.com/TomasB/geolocator/internal/ipaddr"
)

// TracedResolver opens one span per resolution.
type TracedResolver struct {
	next   Service
	tracer trace.Tracer
}

// NewTracedResolver wraps next with tracing from traceProvider.
func NewTracedResolver(traceProvider trace.TracerProvider, next Service) *TracedResolver {
	return &TracedResolver{
		next:   next,
		tracer: traceProvider.Tracer(instrumentationName),
	}
}

// Resolve implements Service.
func (t *TracedResolver) Resolve(ctx context.Context, addr ipaddr.Address) (*Result, error) {
	ctx, span := t.tracer.Start(ctx, "geo.Resolve",
		trace.WithAttributes(attribute.String("ip.version", addr.Version().String())),
	)
	defer span.End()

	res, err := t.next.Resolve(ctx, addr)
	if err != nil {
		kind := geoerr.KindOf(err)
		span.SetAttributes(attribute.String("error.kind", string(kind)))
		// Not found is an answer, not a fault.
		if kind != geoerr.KindAddressNotFound {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	return res, err
}
