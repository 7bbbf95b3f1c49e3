package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TomasB/geolocator/internal/data"
	"github.com/TomasB/geolocator/internal/geoerr"
	"github.com/TomasB/geolocator/internal/ipaddr"
	"github.com/TomasB/geolocator/internal/workpool"
)

// Service resolves one validated address. Errors wrap geoerr.ErrAddressNotFound
// or geoerr.ErrServiceUnavailable.
type Service interface {
	Resolve(ctx context.Context, addr ipaddr.Address) (*Result, error)
}

// Resolver queries the location database and, when configured, the network
// database, on the shared worker pool.
type Resolver struct {
	location data.LocationLookup
	network  data.NetworkLookup
	pool     *workpool.Pool
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for degraded lookups.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now for query timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a resolver. network may be nil when no network database
// is configured.
func NewResolver(location data.LocationLookup, network data.NetworkLookup, pool *workpool.Pool, opts ...Option) *Resolver {
	r := &Resolver{
		location: location,
		network:  network,
		pool:     pool,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type lookupResult struct {
	loc     data.LocationRecord
	network *data.NetworkRecord
}

// Resolve returns the merged geolocation for addr.
func (r *Resolver) Resolve(ctx context.Context, addr ipaddr.Address) (*Result, error) {
	res, err := workpool.Do(ctx, r.pool, func() (lookupResult, error) {
		return r.lookup(addr)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", geoerr.ErrServiceUnavailable, ctxErr)
		}
		return nil, err
	}
	return NewResult(addr, res.loc, res.network, r.now()), nil
}

func (r *Resolver) lookup(addr ipaddr.Address) (lookupResult, error) {
	loc, err := r.location.LookupLocation(addr)
	if err != nil {
		return lookupResult{}, r.locationError(addr, err)
	}

	out := lookupResult{loc: loc}
	if r.network == nil {
		return out, nil
	}

	nrec, err := r.network.LookupNetwork(addr)
	switch {
	case err == nil:
		out.network = &nrec
	case errors.Is(err, data.ErrCorruptRecord):
		r.logger.Warn("corrupt network record, omitting ISP data", "ip", addr.String(), "error", err)
	default:
		r.logger.Debug("network lookup failed, omitting ISP data", "ip", addr.String(), "error", err)
	}
	return out, nil
}

func (r *Resolver) locationError(addr ipaddr.Address, err error) error {
	switch {
	case errors.Is(err, data.ErrNotFound):
		return fmt.Errorf("%w: %s", geoerr.ErrAddressNotFound, addr)
	case errors.Is(err, data.ErrCorruptRecord):
		r.logger.Warn("corrupt location record", "ip", addr.String(), "error", err)
		return fmt.Errorf("%w: %s", geoerr.ErrAddressNotFound, addr)
	default:
		r.logger.Warn("location lookup failed", "ip", addr.String(), "error", err)
		return fmt.Errorf("%w: %w", geoerr.ErrServiceUnavailable, err)
	}
}
