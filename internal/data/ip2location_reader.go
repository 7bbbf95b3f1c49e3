package data

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ip2location/ip2location-go/v9"

	"github.com/TomasB/geolocator/internal/ipaddr"
)

// IP2LocationReader implements Database using an IP2Location BIN file.
//
// This site or product includes IP2Location LITE data available from
// <a href="https://lite.ip2location.com">https://lite.ip2location.com</a>.
type IP2LocationReader struct {
	// The library reads through one shared file handle and does not document
	// concurrent use, so every query holds mu.
	mu sync.Mutex
	db *ip2location.DB
}

// NewIP2LocationReader opens the BIN file at the given path.
func NewIP2LocationReader(path string) (*IP2LocationReader, error) {
	db, err := ip2location.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open IP2Location file: %v", ErrDatabaseUnavailable, err)
	}
	return &IP2LocationReader{db: db}, nil
}

func (r *IP2LocationReader) query(addr ipaddr.Address) (ip2location.IP2Locationrecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return ip2location.IP2Locationrecord{}, ErrDatabaseUnavailable
	}
	rec, err := r.db.Get_all(addr.Addr().String())
	if err != nil {
		return ip2location.IP2Locationrecord{}, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	return rec, nil
}

// LookupLocation returns the location fields for addr.
func (r *IP2LocationReader) LookupLocation(addr ipaddr.Address) (LocationRecord, error) {
	rec, err := r.query(addr)
	if err != nil {
		return LocationRecord{}, fmt.Errorf("location lookup failed: %w", err)
	}

	loc := locationFromIP2Location(rec)
	if loc.CountryCode == "" {
		return LocationRecord{}, fmt.Errorf("location lookup failed: %w", ErrNotFound)
	}
	if err := loc.Validate(); err != nil {
		return LocationRecord{}, fmt.Errorf("location lookup failed: %w", err)
	}
	return loc, nil
}

// LookupNetwork returns the ASN and ISP fields for addr. Only the ASN and ISP
// editions of the BIN files carry them.
func (r *IP2LocationReader) LookupNetwork(addr ipaddr.Address) (NetworkRecord, error) {
	rec, err := r.query(addr)
	if err != nil {
		return NetworkRecord{}, fmt.Errorf("network lookup failed: %w", err)
	}

	nrec, err := networkFromIP2Location(rec)
	if err != nil {
		return NetworkRecord{}, fmt.Errorf("network lookup failed: %w", err)
	}
	if nrec.IsEmpty() {
		return NetworkRecord{}, fmt.Errorf("network lookup failed: %w", ErrNotFound)
	}
	return nrec, nil
}

// Describe returns the file format name.
func (r *IP2LocationReader) Describe() string {
	return "IP2Location BIN"
}

// Close releases the BIN file.
func (r *IP2LocationReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	return nil
}

func locationFromIP2Location(rec ip2location.IP2Locationrecord) LocationRecord {
	loc := LocationRecord{
		CountryName: ip2lValue(rec.Country_long),
		CountryCode: ip2lValue(rec.Country_short),
		RegionName:  ip2lValue(rec.Region),
		City:        ip2lValue(rec.City),
		PostalCode:  ip2lValue(rec.Zipcode),
		TimeZone:    ip2lValue(rec.Timezone),
	}
	// Editions without coordinates report 0,0.
	if loc.CountryCode != "" && (rec.Latitude != 0 || rec.Longitude != 0) {
		lat, lon := float64(rec.Latitude), float64(rec.Longitude)
		loc.Latitude, loc.Longitude = &lat, &lon
	}
	return loc
}

func networkFromIP2Location(rec ip2location.IP2Locationrecord) (NetworkRecord, error) {
	nrec := NetworkRecord{
		ASOrganization: ip2lValue(rec.As),
		ISP:            ip2lValue(rec.Isp),
	}
	if asn := ip2lValue(rec.Asn); asn != "" {
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(asn), "AS"), 10, 32)
		if err != nil {
			return NetworkRecord{}, fmt.Errorf("%w: asn %q", ErrCorruptRecord, asn)
		}
		nrec.ASN = uint(n)
	}
	return nrec, nil
}

// ip2lValue maps the library's placeholder strings to "".
func ip2lValue(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "-", s == "":
		return ""
	case strings.HasPrefix(s, "This parameter is unavailable"),
		strings.HasPrefix(s, "Invalid IP address"),
		strings.HasPrefix(s, "Invalid database file"):
		return ""
	default:
		return s
	}
}
