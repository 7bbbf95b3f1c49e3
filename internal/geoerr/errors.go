// Package geoerr defines the error kinds shared by every lookup surface and
// maps them onto HTTP status codes and gRPC codes.
package geoerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

var (
	ErrInvalidAddress     = errors.New("invalid IP address")
	ErrAddressNotFound    = errors.New("address not found")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTooManyItems       = errors.New("too many items")
	ErrInvalidRequest     = errors.New("invalid request")
)

// Kind is the stable machine-readable name of a failure.
type Kind string

const (
	KindInvalidAddress     Kind = "invalid_address"
	KindAddressNotFound    Kind = "address_not_found"
	KindServiceUnavailable Kind = "service_unavailable"
	KindTooManyItems       Kind = "too_many_items"
	KindInvalidRequest     Kind = "invalid_request"
	KindInternal           Kind = "internal_error"
)

// KindOf classifies err. Context errors count as unavailability since the
// caller gave up before a database answered.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidAddress):
		return KindInvalidAddress
	case errors.Is(err, ErrAddressNotFound):
		return KindAddressNotFound
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindServiceUnavailable
	case errors.Is(err, ErrTooManyItems):
		return KindTooManyItems
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	default:
		return KindInternal
	}
}

// HTTPStatus returns the status code a kind is reported with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidAddress:
		return http.StatusUnprocessableEntity
	case KindAddressNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindTooManyItems, KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode returns the gRPC status code a kind is reported with.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindInvalidAddress, KindTooManyItems, KindInvalidRequest:
		return codes.InvalidArgument
	case KindAddressNotFound:
		return codes.NotFound
	case KindServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Detail returns a message that is safe to show to callers. It never contains
// wrapped library errors or file paths.
func Detail(k Kind, ip string) string {
	switch k {
	case KindInvalidAddress:
		return fmt.Sprintf("%q is not a valid IPv4 or IPv6 address", ip)
	case KindAddressNotFound:
		return fmt.Sprintf("no geolocation data available for IP address %s", ip)
	case KindServiceUnavailable:
		return "geolocation database is unavailable"
	case KindTooManyItems:
		return "batch contains more addresses than allowed"
	case KindInvalidRequest:
		return "request body must be a non-empty list of IP addresses"
	default:
		return "internal server error"
	}
}
