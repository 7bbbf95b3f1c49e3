// Package mmdbtest writes small MaxMind DB files for tests.
package mmdbtest

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
)

// Addresses with known content in the generated databases.
const (
	// GoogleIP has a complete city record and an ASN record.
	GoogleIP = "8.8.8.8"
	// SparseIP is in the city database but only carries a continent and
	// the registering country.
	SparseIP = "2.2.2.2"
	// CorruptIP has a city record whose latitude is stored as a string.
	CorruptIP = "3.3.3.3"
	// BareIP maps to an empty city record.
	BareIP = "4.4.4.4"
	// MissingIP is not covered by any generated database.
	MissingIP = "9.9.9.9"
)

func names(en string) mmdbtype.Map {
	return mmdbtype.Map{"en": mmdbtype.String(en)}
}

func cityRecords() map[string]mmdbtype.Map {
	return map[string]mmdbtype.Map{
		"8.8.8.0/24": {
			"continent": mmdbtype.Map{"code": mmdbtype.String("NA")},
			"country": mmdbtype.Map{
				"iso_code": mmdbtype.String("US"),
				"names":    names("United States"),
			},
			"subdivisions": mmdbtype.Slice{
				mmdbtype.Map{"iso_code": mmdbtype.String("CA"), "names": names("California")},
			},
			"city":   mmdbtype.Map{"names": names("Mountain View")},
			"postal": mmdbtype.Map{"code": mmdbtype.String("94043")},
			"location": mmdbtype.Map{
				"latitude":  mmdbtype.Float64(37.4056),
				"longitude": mmdbtype.Float64(-122.0775),
				"time_zone": mmdbtype.String("America/Los_Angeles"),
			},
		},
		"2.2.2.0/24": {
			"continent": mmdbtype.Map{"code": mmdbtype.String("EU")},
			"registered_country": mmdbtype.Map{
				"iso_code": mmdbtype.String("DE"),
				"names":    names("Germany"),
			},
		},
		"3.3.3.0/24": {
			"country":  mmdbtype.Map{"iso_code": mmdbtype.String("FR")},
			"location": mmdbtype.Map{"latitude": mmdbtype.String("north")},
		},
		"4.4.4.0/24": {},
	}
}

func asnRecords() map[string]mmdbtype.Map {
	return map[string]mmdbtype.Map{
		"8.8.8.0/24": {
			"autonomous_system_number":       mmdbtype.Uint32(15169),
			"autonomous_system_organization": mmdbtype.String("Google LLC"),
		},
	}
}

// City writes a GeoLite2-City shaped database and returns its path.
// ipVersion is 4 or 6.
func City(t testing.TB, ipVersion int) string {
	t.Helper()
	return write(t, "GeoLite2-City", ipVersion, cityRecords())
}

// ASN writes a GeoLite2-ASN shaped IPv6 database and returns its path.
func ASN(t testing.TB) string {
	t.Helper()
	return write(t, "GeoLite2-ASN", 6, asnRecords())
}

func write(t testing.TB, dbType string, ipVersion int, records map[string]mmdbtype.Map) string {
	t.Helper()

	tree, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType: dbType,
		IPVersion:    ipVersion,
		RecordSize:   24,
		Languages:    []string{"en"},
	})
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}

	for cidr, rec := range records {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			t.Fatalf("bad fixture network %s: %v", cidr, err)
		}
		if err := tree.Insert(network, rec); err != nil {
			t.Fatalf("failed to insert %s: %v", cidr, err)
		}
	}

	path := filepath.Join(t.TempDir(), dbType+".mmdb")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()

	if _, err := tree.WriteTo(f); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
