// Package ipaddr validates textual IP addresses. Address values can only be
// obtained from Parse, so code holding one may trust it is well formed.
package ipaddr

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"unicode"

	"github.com/TomasB/geolocator/internal/geoerr"
)

// Version tags an address as IPv4 or IPv6.
type Version int

const (
	V4 Version = 4
	V6 Version = 6
)

func (v Version) String() string {
	switch v {
	case V4:
		return "v4"
	case V6:
		return "v6"
	default:
		return "unknown"
	}
}

// MarshalText renders the version as "v4" or "v6".
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Address is a validated IP address.
type Address struct {
	addr netip.Addr
}

// Parse validates text as an IPv4 or IPv6 literal. Any failure wraps
// geoerr.ErrInvalidAddress.
func Parse(text string) (Address, error) {
	if text == "" {
		return Address{}, fmt.Errorf("%w: empty string", geoerr.ErrInvalidAddress)
	}
	// netip accepts arbitrary zone text, so reject spaces and control bytes first.
	if strings.IndexFunc(text, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return Address{}, fmt.Errorf("%w: contains whitespace or control characters", geoerr.ErrInvalidAddress)
	}

	addr, err := netip.ParseAddr(text)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", geoerr.ErrInvalidAddress, err)
	}
	if zone := addr.Zone(); zone != "" && !validZone(zone) {
		return Address{}, fmt.Errorf("%w: zone %q has characters outside RFC 6874", geoerr.ErrInvalidAddress, zone)
	}
	return Address{addr: addr}, nil
}

// validZone reports whether zone only holds RFC 6874 unreserved characters.
// Zones are echoed back to callers, so anything else is refused.
func validZone(zone string) bool {
	for i := 0; i < len(zone); i++ {
		c := zone[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

// MustParse is Parse for literals known to be valid. It panics otherwise.
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

// IsValid reports whether a was produced by Parse.
func (a Address) IsValid() bool {
	return a.addr.IsValid()
}

// Version classifies the literal form. IPv4-mapped IPv6 literals are V6.
func (a Address) Version() Version {
	if a.addr.Is4() {
		return V4
	}
	return V6
}

// String returns the canonical text form, including any zone.
func (a Address) String() string {
	return a.addr.String()
}

// Addr returns the address used for database lookups: zone removed and
// IPv4-mapped addresses unmapped.
func (a Address) Addr() netip.Addr {
	return a.addr.WithZone("").Unmap()
}

// IP returns Addr as a net.IP for readers built on the older API.
func (a Address) IP() net.IP {
	return net.IP(a.Addr().AsSlice())
}
