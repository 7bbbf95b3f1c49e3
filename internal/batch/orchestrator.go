// Package batch resolves lists of addresses with per item failure isolation.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/TomasB/geolocator/internal/geo"
	"github.com/TomasB/geolocator/internal/geoerr"
	"github.com/TomasB/geolocator/internal/ipaddr"
)

// DefaultMaxItems is the batch limit used when none is configured.
const DefaultMaxItems = 100

// Failure describes why one batch item could not be resolved.
type Failure struct {
	IP     string
	Kind   geoerr.Kind
	Detail string
}

// Outcome is the result for one batch item: exactly one of Result and
// Failure is set.
type Outcome struct {
	IP      string
	Result  *geo.Result
	Failure *Failure
}

// OK reports whether the item resolved.
func (o Outcome) OK() bool { return o.Failure == nil }

type successJSON struct {
	IP     string      `json:"ip"`
	Status string      `json:"status"`
	Result *geo.Result `json:"result"`
}

type failureJSON struct {
	IP         string      `json:"ip"`
	Status     string      `json:"status"`
	Error      geoerr.Kind `json:"error"`
	Detail     string      `json:"detail"`
	StatusCode int         `json:"status_code"`
}

// MarshalJSON encodes the outcome with a status discriminator.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.OK() {
		return json.Marshal(successJSON{IP: o.IP, Status: "success", Result: o.Result})
	}
	return json.Marshal(failureJSON{
		IP:         o.IP,
		Status:     "error",
		Error:      o.Failure.Kind,
		Detail:     o.Failure.Detail,
		StatusCode: o.Failure.Kind.HTTPStatus(),
	})
}

func failed(ip string, err error) Outcome {
	kind := geoerr.KindOf(err)
	return Outcome{IP: ip, Failure: &Failure{IP: ip, Kind: kind, Detail: geoerr.Detail(kind, ip)}}
}

// Orchestrator fans a batch out over a resolver. Database access stays
// bounded by the resolver's worker pool, which is shared with every other
// request, so a batch only adds waiting goroutines, not readers.
type Orchestrator struct {
	resolver geo.Service
	maxItems int
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator accepting at most maxItems per batch.
func NewOrchestrator(resolver geo.Service, maxItems int, logger *slog.Logger) *Orchestrator {
	if maxItems < 1 {
		maxItems = DefaultMaxItems
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{resolver: resolver, maxItems: maxItems, logger: logger}
}

// MaxItems returns the configured batch limit.
func (o *Orchestrator) MaxItems() int { return o.maxItems }

// ResolveBatch returns one outcome per input, in input order. The only error
// it returns is geoerr.ErrTooManyItems, raised before any input is looked at.
func (o *Orchestrator) ResolveBatch(ctx context.Context, inputs []string) ([]Outcome, error) {
	if len(inputs) > o.maxItems {
		return nil, fmt.Errorf("%w: %d addresses, limit is %d", geoerr.ErrTooManyItems, len(inputs), o.maxItems)
	}

	outcomes := make([]Outcome, len(inputs))

	// Item goroutines never return an error, so the group is only used to wait.
	var g errgroup.Group
	for i, raw := range inputs {
		addr, err := ipaddr.Parse(raw)
		if err != nil {
			outcomes[i] = failed(raw, err)
			continue
		}

		g.Go(func() error {
			res, err := o.resolver.Resolve(ctx, addr)
			if err != nil {
				outcomes[i] = failed(raw, err)
				return nil
			}
			outcomes[i] = Outcome{IP: raw, Result: res}
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	for _, out := range outcomes {
		if !out.OK() {
			failures++
		}
	}
	o.logger.Debug("batch resolved", "items", len(inputs), "failures", failures)

	return outcomes, nil
}
