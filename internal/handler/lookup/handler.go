package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TomasB/geolocator/internal/batch"
	"github.com/TomasB/geolocator/internal/geo"
	"github.com/TomasB/geolocator/internal/geoerr"
	"github.com/TomasB/geolocator/internal/ipaddr"
)

// ErrorResponse is the uniform error body of every lookup endpoint.
type ErrorResponse struct {
	Error      geoerr.Kind `json:"error"`
	Detail     string      `json:"detail"`
	StatusCode int         `json:"status_code"`
}

// BatchRequest is the object form of the batch body. A bare JSON array of
// strings is accepted as well.
type BatchRequest struct {
	IPAddresses []string `json:"ip_addresses"`
}

// BatchResolver resolves lists of raw addresses.
type BatchResolver interface {
	ResolveBatch(ctx context.Context, inputs []string) ([]batch.Outcome, error)
	MaxItems() int
}

// Handler manages the IP geolocation endpoints.
type Handler struct {
	resolver geo.Service
	batch    BatchResolver
	timeout  time.Duration
}

// NewHandler creates a lookup handler. timeout bounds each request,
// including time spent waiting for a worker.
func NewHandler(resolver geo.Service, orchestrator BatchResolver, timeout time.Duration) *Handler {
	return &Handler{resolver: resolver, batch: orchestrator, timeout: timeout}
}

// Self handles GET /ip and geolocates the caller.
func (h *Handler) Self(c *gin.Context) {
	h.resolve(c, clientIP(c))
}

// Lookup handles GET /ip/:address
func (h *Handler) Lookup(c *gin.Context) {
	h.resolve(c, c.Param("address"))
}

func (h *Handler) resolve(c *gin.Context, raw string) {
	addr, err := ipaddr.Parse(raw)
	if err != nil {
		slog.Debug("rejected address", "ip", raw, "error", err)
		writeError(c, err, raw)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.resolver.Resolve(ctx, addr)
	if err != nil {
		writeError(c, err, addr.String())
		return
	}

	c.JSON(http.StatusOK, res)
}

// Batch handles POST /ip/batch
func (h *Handler) Batch(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", geoerr.ErrInvalidRequest, err), "")
		return
	}

	inputs, err := parseBatchBody(body)
	if err != nil {
		slog.Debug("invalid batch body", "error", err)
		writeError(c, err, "")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	outcomes, err := h.batch.ResolveBatch(ctx, inputs)
	if errors.Is(err, geoerr.ErrTooManyItems) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:      geoerr.KindTooManyItems,
			Detail:     fmt.Sprintf("batch contains %d addresses, the limit is %d", len(inputs), h.batch.MaxItems()),
			StatusCode: http.StatusBadRequest,
		})
		return
	}
	if err != nil {
		writeError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, outcomes)
}

func (h *Handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func parseBatchBody(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)

	var inputs []string
	switch {
	case len(body) == 0:
		return nil, fmt.Errorf("%w: empty body", geoerr.ErrInvalidRequest)
	case body[0] == '[':
		if err := json.Unmarshal(body, &inputs); err != nil {
			return nil, fmt.Errorf("%w: %v", geoerr.ErrInvalidRequest, err)
		}
	default:
		var req BatchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", geoerr.ErrInvalidRequest, err)
		}
		inputs = req.IPAddresses
	}

	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no addresses", geoerr.ErrInvalidRequest)
	}
	return inputs, nil
}

func writeError(c *gin.Context, err error, ip string) {
	kind := geoerr.KindOf(err)
	status := kind.HTTPStatus()

	if kind == geoerr.KindInternal {
		slog.Error("unexpected lookup error", "ip", ip, "error", err)
	}

	c.JSON(status, ErrorResponse{Error: kind, Detail: geoerr.Detail(kind, ip), StatusCode: status})
}

// clientIP returns the caller's address: the leftmost X-Forwarded-For entry,
// then X-Real-IP, then the socket peer.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(c.GetHeader("X-Real-IP")); xri != "" {
		return xri
	}

	remote := strings.TrimSpace(c.Request.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		// No port, e.g. a unix socket peer.
		return remote
	}
	return host
}
