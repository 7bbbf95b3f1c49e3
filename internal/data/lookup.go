package data

import (
	"errors"
	"fmt"

	"github.com/TomasB/geolocator/internal/ipaddr"
)

var (
	// ErrNotFound means the address is well formed but outside the database's coverage.
	ErrNotFound = errors.New("address not in database")
	// ErrDatabaseUnavailable means the backing file is missing, closed or unreadable.
	ErrDatabaseUnavailable = errors.New("database unavailable")
	// ErrCorruptRecord means the stored record does not decode into the expected schema.
	ErrCorruptRecord = errors.New("corrupt database record")
)

// LocationRecord holds the raw location fields of one database entry.
// Empty strings and nil coordinates mean the database has no value.
type LocationRecord struct {
	CountryName string
	CountryCode string
	RegionName  string
	RegionCode  string
	City        string
	PostalCode  string
	Latitude    *float64
	Longitude   *float64
	TimeZone    string
}

// Validate rejects records whose values cannot be real.
func (r LocationRecord) Validate() error {
	if r.Latitude != nil && (*r.Latitude < -90 || *r.Latitude > 90) {
		return fmt.Errorf("%w: latitude %v out of range", ErrCorruptRecord, *r.Latitude)
	}
	if r.Longitude != nil && (*r.Longitude < -180 || *r.Longitude > 180) {
		return fmt.Errorf("%w: longitude %v out of range", ErrCorruptRecord, *r.Longitude)
	}
	if r.CountryCode != "" && len(r.CountryCode) != 2 {
		return fmt.Errorf("%w: country code %q", ErrCorruptRecord, r.CountryCode)
	}
	return nil
}

// IsEmpty reports whether the record carries no data at all.
func (r LocationRecord) IsEmpty() bool {
	return r.CountryName == "" && r.CountryCode == "" && r.RegionName == "" && r.RegionCode == "" &&
		r.City == "" && r.PostalCode == "" && r.Latitude == nil && r.Longitude == nil && r.TimeZone == ""
}

// NetworkRecord holds the autonomous system data of one database entry.
// ISP and Organization are only filled by ISP-grade databases.
type NetworkRecord struct {
	ASN            uint
	ASOrganization string
	ISP            string
	Organization   string
}

// IsEmpty reports whether the record carries no data at all.
func (r NetworkRecord) IsEmpty() bool {
	return r == NetworkRecord{}
}

// LocationLookup resolves addresses to location records.
type LocationLookup interface {
	// LookupLocation returns the location record for addr. Errors wrap
	// ErrNotFound, ErrDatabaseUnavailable or ErrCorruptRecord.
	LookupLocation(addr ipaddr.Address) (LocationRecord, error)
}

// NetworkLookup resolves addresses to autonomous system records.
type NetworkLookup interface {
	// LookupNetwork returns the network record for addr. Errors wrap
	// ErrNotFound, ErrDatabaseUnavailable or ErrCorruptRecord.
	LookupNetwork(addr ipaddr.Address) (NetworkRecord, error)
}

// Database is one opened database file. A single file may carry location
// data, network data, or both.
type Database interface {
	LocationLookup
	NetworkLookup

	// Describe returns a short human readable description of the file contents.
	Describe() string

	// Close releases any resources held by the implementation.
	Close() error
}

// Opener opens the database file at path.
type Opener func(path string) (Database, error)

// Format names a supported database file format.
type Format string

const (
	FormatMMDB        Format = "mmdb"
	FormatIP2Location Format = "ip2location"
)

// OpenerFor returns the Opener for format.
func OpenerFor(format Format) (Opener, error) {
	switch format {
	case FormatMMDB, "":
		return func(path string) (Database, error) { return NewMmdbReader(path) }, nil
	case FormatIP2Location:
		return func(path string) (Database, error) { return NewIP2LocationReader(path) }, nil
	default:
		return nil, fmt.Errorf("unsupported database format %q", format)
	}
}
