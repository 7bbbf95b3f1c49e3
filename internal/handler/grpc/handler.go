package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	grpcgo "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/TomasB/geolocator/internal/batch"
	"github.com/TomasB/geolocator/internal/geo"
	"github.com/TomasB/geolocator/internal/geoerr"
	"github.com/TomasB/geolocator/internal/ipaddr"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "geolocator.v1.GeolocationService"

// GeolocationServer is the server API of the geolocation service. Messages
// are protobuf well-known types carrying the same JSON documents the HTTP API
// returns, so clients need no generated code.
type GeolocationServer interface {
	// Lookup resolves one address given as a string value.
	Lookup(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	// LookupBatch resolves a list of address strings into a list of outcomes.
	LookupBatch(ctx context.Context, req *structpb.ListValue) (*structpb.ListValue, error)
}

// BatchResolver resolves lists of raw addresses.
type BatchResolver interface {
	ResolveBatch(ctx context.Context, inputs []string) ([]batch.Outcome, error)
}

// Handler implements GeolocationServer.
type Handler struct {
	resolver geo.Service
	batch    BatchResolver
	timeout  time.Duration
}

// NewHandler creates a new gRPC handler. timeout caps each call in addition
// to any client deadline.
func NewHandler(resolver geo.Service, orchestrator BatchResolver, timeout time.Duration) *Handler {
	return &Handler{resolver: resolver, batch: orchestrator, timeout: timeout}
}

// Register adds the service to s.
func (h *Handler) Register(s grpcgo.ServiceRegistrar) {
	s.RegisterService(&ServiceDesc, h)
}

// Lookup resolves a single address.
func (h *Handler) Lookup(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	addr, err := ipaddr.Parse(req.GetValue())
	if err != nil {
		return nil, statusError(err, req.GetValue())
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	res, err := h.resolver.Resolve(ctx, addr)
	if err != nil {
		return nil, statusError(err, addr.String())
	}

	var fields map[string]any
	if err := roundTrip(res, &fields); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return out, nil
}

// LookupBatch resolves every string in the list.
func (h *Handler) LookupBatch(ctx context.Context, req *structpb.ListValue) (*structpb.ListValue, error) {
	if req == nil || len(req.GetValues()) == 0 {
		return nil, status.Error(codes.InvalidArgument, geoerr.Detail(geoerr.KindInvalidRequest, ""))
	}

	inputs := make([]string, len(req.GetValues()))
	for i, v := range req.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "item %d is not a string", i)
		}
		inputs[i] = s.StringValue
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	outcomes, err := h.batch.ResolveBatch(ctx, inputs)
	if err != nil {
		return nil, statusError(err, "")
	}

	var items []any
	if err := roundTrip(outcomes, &items); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode outcomes")
	}
	out, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode outcomes")
	}
	return out, nil
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

func statusError(err error, ip string) error {
	kind := geoerr.KindOf(err)
	if kind == geoerr.KindInternal {
		slog.Error("unexpected lookup error", "ip", ip, "error", err)
	}
	return status.Error(kind.GRPCCode(), geoerr.Detail(kind, ip))
}

// roundTrip converts v into the generic JSON shape structpb accepts.
func roundTrip(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func lookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpcgo.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeolocationServer).Lookup(ctx, in)
	}
	info := &grpcgo.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Lookup"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GeolocationServer).Lookup(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func lookupBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpcgo.UnaryServerInterceptor) (any, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeolocationServer).LookupBatch(ctx, in)
	}
	info := &grpcgo.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/LookupBatch"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GeolocationServer).LookupBatch(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the geolocation service for grpc.Server.RegisterService.
var ServiceDesc = grpcgo.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeolocationServer)(nil),
	Methods: []grpcgo.MethodDesc{
		{MethodName: "Lookup", Handler: lookupHandler},
		{MethodName: "LookupBatch", Handler: lookupBatchHandler},
	},
	Streams:  []grpcgo.StreamDesc{},
	Metadata: "geolocator/v1/geolocation.proto",
}

// LoggingInterceptor logs each unary call the way the HTTP middleware logs requests.
func LoggingInterceptor(logger *slog.Logger) grpcgo.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpcgo.UnaryServerInfo, handler grpcgo.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case code == codes.Internal || code == codes.Unavailable || code == codes.Unknown:
			logger.Error("grpc call", attrs...)
		case err != nil && !errors.Is(err, context.Canceled):
			logger.Warn("grpc call", attrs...)
		default:
			logger.Info("grpc call", attrs...)
		}
		return resp, err
	}
}
