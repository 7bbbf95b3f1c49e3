package geo

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/TomasB/geolocator/internal/geoerr"
	"github.com/TomasB/geolocator/internal/ipaddr"
)

const instrumentationName = "github.com/TomasB/geolocator/internal/geo"

// MeteredResolver counts resolutions by outcome and records their duration.
type MeteredResolver struct {
	next     Service
	lookups  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMeteredResolver wraps next with the geolocation.lookups counter and the
// geolocation.lookup.duration histogram.
func NewMeteredResolver(meterProvider metric.MeterProvider, next Service) (*MeteredResolver, error) {
	meter := meterProvider.Meter(instrumentationName)

	lookups, err := meter.Int64Counter("geolocation.lookups",
		metric.WithDescription("Address resolutions by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("geolocation.lookup.duration",
		metric.WithDescription("Time spent resolving one address, including queueing for a worker"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MeteredResolver{next: next, lookups: lookups, duration: duration}, nil
}

// Resolve implements Service.
func (m *MeteredResolver) Resolve(ctx context.Context, addr ipaddr.Address) (*Result, error) {
	start := time.Now()

	res, err := m.next.Resolve(ctx, addr)

	outcome := "success"
	if err != nil {
		outcome = string(geoerr.KindOf(err))
	}
	opt := metric.WithAttributes(
		attribute.String("result", outcome),
		attribute.String("ip_version", addr.Version().String()),
	)
	m.lookups.Add(ctx, 1, opt)
	m.duration.Record(ctx, time.Since(start).Seconds(), opt)

	return res, err
}
