package data

import (
	"errors"
	"fmt"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	"github.com/TomasB/geolocator/internal/ipaddr"
)

// cityRecord mirrors the GeoIP2/GeoLite2 City layout. Coordinates are
// pointers so that a missing value is not confused with 0.
type cityRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"registered_country"`
	Subdivisions []struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Postal struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"postal"`
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
		TimeZone  string   `maxminddb:"time_zone"`
	} `maxminddb:"location"`
}

const displayLanguage = "en"

func (c *cityRecord) toLocation() LocationRecord {
	rec := LocationRecord{
		CountryName: c.Country.Names[displayLanguage],
		CountryCode: c.Country.ISOCode,
		City:        c.City.Names[displayLanguage],
		PostalCode:  c.Postal.Code,
		Latitude:    c.Location.Latitude,
		Longitude:   c.Location.Longitude,
		TimeZone:    c.Location.TimeZone,
	}
	// Sparse ranges (mostly IPv6) only carry the registering country.
	if rec.CountryCode == "" && rec.CountryName == "" {
		rec.CountryCode = c.RegisteredCountry.ISOCode
		rec.CountryName = c.RegisteredCountry.Names[displayLanguage]
	}
	// Subdivisions are ordered from least to most specific.
	if n := len(c.Subdivisions); n > 0 {
		sub := c.Subdivisions[n-1]
		rec.RegionName = sub.Names[displayLanguage]
		rec.RegionCode = sub.ISOCode
	}
	return rec
}

// MmdbReader implements Database using a MaxMind MMDB file. The underlying
// reader is safe for concurrent use, so no locking is done here.
type MmdbReader struct {
	db *maxminddb.Reader
}

// NewMmdbReader opens the MMDB file at the given path and returns a reader.
func NewMmdbReader(path string) (*MmdbReader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open MMDB file: %v", ErrDatabaseUnavailable, err)
	}
	return &MmdbReader{db: db}, nil
}

// LookupLocation returns the city level location for addr.
func (r *MmdbReader) LookupLocation(addr ipaddr.Address) (LocationRecord, error) {
	var record cityRecord
	if err := r.lookup(addr, &record); err != nil {
		return LocationRecord{}, fmt.Errorf("location lookup failed: %w", err)
	}

	// A found record with no usable fields is still a match; its fields stay absent.
	loc := record.toLocation()
	if err := loc.Validate(); err != nil {
		return LocationRecord{}, fmt.Errorf("location lookup failed: %w", err)
	}
	return loc, nil
}

// LookupNetwork returns the ASN (and, for ISP databases, ISP) data for addr.
func (r *MmdbReader) LookupNetwork(addr ipaddr.Address) (NetworkRecord, error) {
	// geoip2.ISP is a superset of the ASN record layout.
	var record geoip2.ISP
	if err := r.lookup(addr, &record); err != nil {
		return NetworkRecord{}, fmt.Errorf("network lookup failed: %w", err)
	}

	rec := NetworkRecord{
		ASN:            record.AutonomousSystemNumber,
		ASOrganization: record.AutonomousSystemOrganization,
		ISP:            record.ISP,
		Organization:   record.Organization,
	}
	return rec, nil
}

func (r *MmdbReader) lookup(addr ipaddr.Address, result any) error {
	if addr.Addr().Is6() && r.db.Metadata.IPVersion == 4 {
		return ErrNotFound
	}

	_, ok, err := r.db.LookupNetwork(addr.IP(), result)
	if err != nil {
		return classifyMmdbError(err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func classifyMmdbError(err error) error {
	var (
		typeErr maxminddb.UnmarshalTypeError
		dbErr   maxminddb.InvalidDatabaseError
	)
	if errors.As(err, &typeErr) || errors.As(err, &dbErr) {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	// Anything else (closed reader, unreadable map) means no answer is possible.
	return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
}

// Describe returns the database type and build date from the file metadata.
func (r *MmdbReader) Describe() string {
	built := time.Unix(int64(r.db.Metadata.BuildEpoch), 0).UTC()
	return fmt.Sprintf("%s (built %s)", r.db.Metadata.DatabaseType, built.Format(time.DateOnly))
}

// Close releases the MMDB reader resources.
func (r *MmdbReader) Close() error {
	return r.db.Close()
}
