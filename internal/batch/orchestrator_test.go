package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomasB/geolocator/internal/data"
	"github.com/TomasB/geolocator/internal/geo"
	"github.com/TomasB/geolocator/internal/geoerr"
	"github.com/TomasB/geolocator/internal/ipaddr"
)

// fakeResolver resolves addresses present in known, reports not found for
// everything else, and sleeps a random amount so completion order shuffles.
type fakeResolver struct {
	known map[string]string
	calls atomic.Int32
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, addr ipaddr.Address) (*geo.Result, error) {
	f.calls.Add(1)
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)

	if f.err != nil {
		return nil, f.err
	}
	country, ok := f.known[addr.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", geoerr.ErrAddressNotFound, addr)
	}
	return geo.NewResult(addr, data.LocationRecord{CountryCode: country}, nil, time.Now()), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveBatch_Isolation(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{known: map[string]string{"8.8.8.8": "US", "1.1.1.1": "AU"}}
	o := NewOrchestrator(resolver, 10, testLogger())

	outcomes, err := o.ResolveBatch(context.Background(), []string{"8.8.8.8", "127.0.0.1", "not-an-ip", "1.1.1.1"})
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.True(t, outcomes[0].OK())
	assert.Equal(t, "8.8.8.8", outcomes[0].Result.IP)

	require.False(t, outcomes[1].OK())
	assert.Equal(t, geoerr.KindAddressNotFound, outcomes[1].Failure.Kind)
	assert.Equal(t, "127.0.0.1", outcomes[1].IP)

	require.False(t, outcomes[2].OK())
	assert.Equal(t, geoerr.KindInvalidAddress, outcomes[2].Failure.Kind)
	assert.Equal(t, "not-an-ip", outcomes[2].Failure.IP)

	assert.True(t, outcomes[3].OK())
	assert.Equal(t, "1.1.1.1", outcomes[3].Result.IP)

	assert.Equal(t, int32(3), resolver.calls.Load(), "invalid input must not reach the resolver")
}

func TestResolveBatch_OrderForEverySize(t *testing.T) {
	t.Parallel()

	const maxItems = 40
	resolver := &fakeResolver{known: map[string]string{}}
	for i := 0; i < maxItems; i++ {
		if i%3 != 0 {
			resolver.known[fmt.Sprintf("10.0.0.%d", i)] = "NL"
		}
	}
	o := NewOrchestrator(resolver, maxItems, testLogger())

	for n := 1; n <= maxItems; n++ {
		inputs := make([]string, n)
		for i := range inputs {
			if i%7 == 6 {
				inputs[i] = fmt.Sprintf("bad-%d", i)
				continue
			}
			inputs[i] = fmt.Sprintf("10.0.0.%d", i)
		}

		outcomes, err := o.ResolveBatch(context.Background(), inputs)
		require.NoError(t, err)
		require.Len(t, outcomes, n)
		for i, out := range outcomes {
			assert.Equal(t, inputs[i], out.IP, "n=%d i=%d", n, i)
			if out.OK() {
				assert.Equal(t, inputs[i], out.Result.IP)
			} else {
				assert.Equal(t, inputs[i], out.Failure.IP)
			}
		}
	}
}

func TestResolveBatch_TooManyItems(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{known: map[string]string{"8.8.8.8": "US"}}
	o := NewOrchestrator(resolver, 3, testLogger())

	outcomes, err := o.ResolveBatch(context.Background(), []string{"8.8.8.8", "8.8.8.8", "8.8.8.8", "8.8.8.8"})
	assert.ErrorIs(t, err, geoerr.ErrTooManyItems)
	assert.Nil(t, outcomes)
	assert.Zero(t, resolver.calls.Load())

	outcomes, err = o.ResolveBatch(context.Background(), []string{"8.8.8.8", "8.8.8.8", "8.8.8.8"})
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
}

func TestResolveBatch_Unavailable(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{err: fmt.Errorf("%w: database closed", geoerr.ErrServiceUnavailable)}
	o := NewOrchestrator(resolver, 10, testLogger())

	outcomes, err := o.ResolveBatch(context.Background(), []string{"8.8.8.8", "::1"})
	require.NoError(t, err)
	for _, out := range outcomes {
		require.False(t, out.OK())
		assert.Equal(t, geoerr.KindServiceUnavailable, out.Failure.Kind)
		assert.NotContains(t, out.Failure.Detail, "closed")
	}
}

func TestResolveBatch_Empty(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(&fakeResolver{}, 10, testLogger())
	outcomes, err := o.ResolveBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestNewOrchestrator_DefaultLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultMaxItems, NewOrchestrator(&fakeResolver{}, 0, nil).MaxItems())
	assert.Equal(t, 5, NewOrchestrator(&fakeResolver{}, 5, nil).MaxItems())
}

func TestOutcome_MarshalJSON(t *testing.T) {
	t.Parallel()

	res := geo.NewResult(ipaddr.MustParse("8.8.8.8"), data.LocationRecord{CountryCode: "US"}, nil,
		time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))

	b, err := json.Marshal([]Outcome{
		{IP: "8.8.8.8", Result: res},
		failed("nope", geoerr.ErrInvalidAddress),
	})
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got, 2)

	assert.Equal(t, "success", got[0]["status"])
	assert.Equal(t, "8.8.8.8", got[0]["ip"])
	result, ok := got[0]["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "US", result["country_code"])

	assert.Equal(t, map[string]any{
		"ip":          "nope",
		"status":      "error",
		"error":       "invalid_address",
		"detail":      `"nope" is not a valid IPv4 or IPv6 address`,
		"status_code": float64(422),
	}, got[1])
}
