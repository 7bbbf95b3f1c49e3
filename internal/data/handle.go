package data

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/TomasB/geolocator/internal/ipaddr"
)

// Handle owns the process wide reader for one database file. Lookups share
// the current reader under a read lock held only for the point lookup; Reload
// swaps in a freshly opened reader and closes the previous one once no lookup
// is using it. A Handle with no reader answers every call with
// ErrDatabaseUnavailable.
type Handle struct {
	name   string
	path   string
	open   Opener
	logger *slog.Logger

	mu     sync.RWMutex
	db     Database
	closed bool
}

// NewHandle creates a handle for the file at path. Nothing is opened until Load.
func NewHandle(name, path string, open Opener, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		name:   name,
		path:   path,
		open:   open,
		logger: logger.With("database", name),
	}
}

// Name returns the logical name of the database, e.g. "location".
func (h *Handle) Name() string { return h.name }

// Path returns the file the handle reads from.
func (h *Handle) Path() string { return h.path }

// Load opens the database file. It is Reload under a name that reads better at startup.
func (h *Handle) Load() error {
	return h.Reload()
}

// Reload opens the file again and replaces the current reader. On failure the
// current reader, if any, stays in service.
func (h *Handle) Reload() error {
	db, err := h.open(h.path)
	if err != nil {
		return fmt.Errorf("%s database: %w", h.name, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = db.Close()
		return fmt.Errorf("%s database: handle closed: %w", h.name, ErrDatabaseUnavailable)
	}
	old := h.db
	h.db = db
	h.mu.Unlock()

	h.logger.Info("database loaded", "path", h.path, "description", db.Describe())

	if old != nil {
		if err := old.Close(); err != nil {
			h.logger.Warn("failed to close replaced database", "error", err)
		}
	}
	return nil
}

// Ready returns nil when a reader is loaded.
func (h *Handle) Ready() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.db == nil {
		return fmt.Errorf("%s database: %w", h.name, ErrDatabaseUnavailable)
	}
	return nil
}

// LookupLocation implements LocationLookup.
func (h *Handle) LookupLocation(addr ipaddr.Address) (LocationRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.db == nil {
		return LocationRecord{}, fmt.Errorf("%s database: %w", h.name, ErrDatabaseUnavailable)
	}
	return h.db.LookupLocation(addr)
}

// LookupNetwork implements NetworkLookup.
func (h *Handle) LookupNetwork(addr ipaddr.Address) (NetworkRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.db == nil {
		return NetworkRecord{}, fmt.Errorf("%s database: %w", h.name, ErrDatabaseUnavailable)
	}
	return h.db.LookupNetwork(addr)
}

// Close releases the current reader. Later lookups report ErrDatabaseUnavailable
// and later reloads are refused.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}
