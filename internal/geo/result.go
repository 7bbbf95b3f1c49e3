// Package geo resolves validated addresses to merged geolocation results.
package geo

import (
	"time"

	"github.com/TomasB/geolocator/internal/data"
	"github.com/TomasB/geolocator/internal/ipaddr"
)

// Result is the caller facing geolocation of one address. Fields the
// databases have no value for are nil and encode as JSON null.
type Result struct {
	IP             string         `json:"ip"`
	IPVersion      ipaddr.Version `json:"ip_version"`
	Country        *string        `json:"country"`
	CountryCode    *string        `json:"country_code"`
	Region         *string        `json:"region"`
	RegionCode     *string        `json:"region_code"`
	City           *string        `json:"city"`
	PostalCode     *string        `json:"postal_code"`
	Latitude       *float64       `json:"latitude"`
	Longitude      *float64       `json:"longitude"`
	TimeZone       *string        `json:"timezone"`
	ISP            *string        `json:"isp"`
	Org            *string        `json:"org"`
	ASN            *uint          `json:"asn"`
	QueryTimestamp time.Time      `json:"query_timestamp"`
}

// NewResult merges a location record and an optional network record.
// ISP-grade network databases provide isp and org directly; ASN databases
// only carry the AS organization, which then fills both.
func NewResult(addr ipaddr.Address, loc data.LocationRecord, network *data.NetworkRecord, now time.Time) *Result {
	r := &Result{
		IP:             addr.String(),
		IPVersion:      addr.Version(),
		Country:        optString(loc.CountryName),
		CountryCode:    optString(loc.CountryCode),
		Region:         optString(loc.RegionName),
		RegionCode:     optString(loc.RegionCode),
		City:           optString(loc.City),
		PostalCode:     optString(loc.PostalCode),
		Latitude:       optFloat(loc.Latitude),
		Longitude:      optFloat(loc.Longitude),
		TimeZone:       optString(loc.TimeZone),
		QueryTimestamp: now.UTC(),
	}

	if network != nil {
		r.ISP = firstString(network.ISP, network.ASOrganization)
		r.Org = firstString(network.Organization, network.ASOrganization)
		if network.ASN != 0 {
			asn := network.ASN
			r.ASN = &asn
		}
	}
	return r
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func firstString(values ...string) *string {
	for _, v := range values {
		if v != "" {
			return &v
		}
	}
	return nil
}
