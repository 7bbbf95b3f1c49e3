package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/TomasB/geolocator/internal/batch"
	"github.com/TomasB/geolocator/internal/config"
	"github.com/TomasB/geolocator/internal/data"
	"github.com/TomasB/geolocator/internal/geo"
	"github.com/TomasB/geolocator/internal/handler/health"
	"github.com/TomasB/geolocator/internal/handler/lookup"
	"github.com/TomasB/geolocator/internal/telemetry"
	"github.com/TomasB/geolocator/internal/workpool"
)

// databases holds the process-wide database handles. network is nil when
// no network database is configured.
type databases struct {
	location *data.Handle
	network  *data.Handle
}

func newDatabases(cfg *config.Config, logger *slog.Logger) (*databases, error) {
	open, err := data.OpenerFor(cfg.Location.Format)
	if err != nil {
		return nil, fmt.Errorf("location database: %w", err)
	}
	dbs := &databases{location: data.NewHandle("location", cfg.Location.Path, open, logger)}

	if cfg.Network.Path != "" {
		open, err := data.OpenerFor(cfg.Network.Format)
		if err != nil {
			return nil, fmt.Errorf("network database: %w", err)
		}
		dbs.network = data.NewHandle("network", cfg.Network.Path, open, logger)
	}

	return dbs, nil
}

// load opens every handle. A location failure is returned; a network failure
// is only logged since network data is optional.
func (d *databases) load(logger *slog.Logger) error {
	if d.network != nil {
		if err := d.network.Load(); err != nil {
			logger.Warn("network database unavailable, results will lack ASN data", "path", d.network.Path(), "error", err)
		}
	}
	return d.location.Load()
}

func (d *databases) handles() []*data.Handle {
	if d.network == nil {
		return []*data.Handle{d.location}
	}
	return []*data.Handle{d.location, d.network}
}

// networkLookup returns the network handle as an interface, keeping it nil
// when there is none.
func (d *databases) networkLookup() data.NetworkLookup {
	if d.network == nil {
		return nil
	}
	return d.network
}

func (d *databases) Close() error {
	var errs []error
	for _, h := range d.handles() {
		errs = append(errs, h.Close())
	}
	return errors.Join(errs...)
}

// newResolver builds the resolver chain: pool-backed lookups, then metrics,
// then tracing. providers may be nil to skip instrumentation.
func newResolver(dbs *databases, pool *workpool.Pool, providers *telemetry.Providers, logger *slog.Logger) (geo.Service, error) {
	var svc geo.Service = geo.NewResolver(dbs.location, dbs.networkLookup(), pool, geo.WithLogger(logger))
	if providers == nil {
		return svc, nil
	}

	metered, err := geo.NewMeteredResolver(providers.MeterProvider, svc)
	if err != nil {
		return nil, fmt.Errorf("failed to instrument resolver: %w", err)
	}
	return geo.NewTracedResolver(providers.TracerProvider, metered), nil
}

type routerDeps struct {
	resolver     geo.Service
	orchestrator *batch.Orchestrator
	readyFn      func() error
	timeout      time.Duration
	metrics      http.Handler
	corsOrigins  []string
}

func newRouter(deps routerDeps, logger *slog.Logger) *gin.Engine {
	router := gin.New()

	router.Use(ginLogger(logger))
	router.Use(gin.Recovery())
	if len(deps.corsOrigins) > 0 {
		router.Use(corsMiddleware(deps.corsOrigins))
	}

	healthHandler := health.NewHandler(health.Info{Name: serviceName, Version: version}, deps.readyFn)
	router.GET("/", healthHandler.Info)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	lookupHandler := lookup.NewHandler(deps.resolver, deps.orchestrator, deps.timeout)
	ip := router.Group("/ip")
	{
		ip.GET("", lookupHandler.Self)
		ip.POST("/batch", lookupHandler.Batch)
		ip.GET("/:address", lookupHandler.Lookup)
	}

	if deps.metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.metrics))
	}

	return router
}

// corsMiddleware answers preflight requests itself, so OPTIONS routes are not
// registered. origins must already be validated by config.Validate.
func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}
