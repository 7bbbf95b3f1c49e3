package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/TomasB/geolocator/internal/data"
	"github.com/TomasB/geolocator/internal/ipaddr"
)

func TestMeteredResolver(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	loc := &mockLocation{records: map[string]data.LocationRecord{"8.8.8.8": googleLocation()}}
	metered, err := NewMeteredResolver(provider, newTestResolver(loc, nil))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = metered.Resolve(ctx, ipaddr.MustParse("8.8.8.8"))
	require.NoError(t, err)
	_, err = metered.Resolve(ctx, ipaddr.MustParse("8.8.8.8"))
	require.NoError(t, err)
	_, err = metered.Resolve(ctx, ipaddr.MustParse("127.0.0.1"))
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	var histogramCount uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "geolocation.lookups":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("result"))
					counts[v.AsString()] += dp.Value
				}
			case "geolocation.lookup.duration":
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					histogramCount += dp.Count
				}
			}
		}
	}

	assert.Equal(t, int64(2), counts["success"])
	assert.Equal(t, int64(1), counts["address_not_found"])
	assert.Equal(t, uint64(3), histogramCount)
}

func TestTracedResolver(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	loc := &mockLocation{
		records: map[string]data.LocationRecord{"8.8.8.8": googleLocation()},
	}
	traced := NewTracedResolver(provider, newTestResolver(loc, nil))

	_, err := traced.Resolve(context.Background(), ipaddr.MustParse("8.8.8.8"))
	require.NoError(t, err)
	_, err = traced.Resolve(context.Background(), ipaddr.MustParse("::1"))
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "geo.Resolve", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("ip.version", "v4"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Contains(t, spans[1].Attributes(), attribute.String("ip.version", "v6"))
	assert.Contains(t, spans[1].Attributes(), attribute.String("error.kind", "address_not_found"))
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestTracedResolver_UnavailableMarksError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	traced := NewTracedResolver(provider, newTestResolver(&mockLocation{err: data.ErrDatabaseUnavailable}, nil))
	_, err := traced.Resolve(context.Background(), ipaddr.MustParse("8.8.8.8"))
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
