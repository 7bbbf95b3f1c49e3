package lookup

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TomasB/geolocator/internal/batch"
	"github.com/TomasB/geolocator/internal/data"
	"github.com/TomasB/geolocator/internal/data/mmdbtest"
	"github.com/TomasB/geolocator/internal/geo"
	"github.com/TomasB/geolocator/internal/workpool"
)

const (
	testCityMMDBPath = "../../../testdata/GeoLite2-City-Test.mmdb"
	testASNMMDBPath  = "../../../testdata/GeoLite2-ASN-Test.mmdb"
)

func skipIfNoMMDB(t *testing.T) {
	t.Helper()
	for _, path := range []string{testCityMMDBPath, testASNMMDBPath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Skip("test MMDB files not found; download them first")
		}
	}
}

func setupIntegrationRouter(t *testing.T) *gin.Engine {
	t.Helper()
	skipIfNoMMDB(t)
	return newMmdbRouter(t, testCityMMDBPath, testASNMMDBPath)
}

func newMmdbRouter(t *testing.T, cityPath, asnPath string) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	open := func(name, path string) *data.Handle {
		h := data.NewHandle(name, path, func(p string) (data.Database, error) { return data.NewMmdbReader(p) }, logger)
		if err := h.Load(); err != nil {
			t.Fatalf("failed to open MMDB: %v", err)
		}
		t.Cleanup(func() { h.Close() })
		return h
	}
	location := open("location", cityPath)
	network := open("network", asnPath)

	resolver := geo.NewResolver(location, network, workpool.New(4), geo.WithLogger(logger))

	r := gin.New()
	h := NewHandler(resolver, batch.NewOrchestrator(resolver, 100, logger), 5*time.Second)
	r.GET("/ip/:address", h.Lookup)
	r.POST("/ip/batch", h.Batch)
	return r
}

func TestIntegration_LookupLondon(t *testing.T) {
	router := setupIntegrationRouter(t)

	req, _ := http.NewRequest("GET", "/ip/81.2.69.142", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["country_code"] != "GB" {
		t.Errorf("expected GB, got %v", resp["country_code"])
	}
	if resp["city"] != "London" {
		t.Errorf("expected London, got %v", resp["city"])
	}
}

func TestIntegration_LookupPrivate(t *testing.T) {
	router := setupIntegrationRouter(t)

	req, _ := http.NewRequest("GET", "/ip/10.0.0.1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIntegration_Batch(t *testing.T) {
	router := setupIntegrationRouter(t)

	w := postBatch(router, `["81.2.69.142", "10.0.0.1", "216.160.83.56"]`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var items []batchItem
	json.Unmarshal(w.Body.Bytes(), &items)

	if len(items) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(items))
	}
	if items[0].Result["country_code"] != "GB" {
		t.Errorf("expected GB first, got %+v", items[0])
	}
	if items[1].Error != "address_not_found" {
		t.Errorf("expected address_not_found second, got %+v", items[1])
	}
	if items[2].Result["country_code"] != "US" {
		t.Errorf("expected US third, got %+v", items[2])
	}
}

func TestIntegration_GeneratedDatabases(t *testing.T) {
	router := newMmdbRouter(t, mmdbtest.City(t, 6), mmdbtest.ASN(t))

	tests := []struct {
		ip          string
		wantStatus  int
		wantCountry any
		wantCity    any
		wantASN     any
	}{
		{mmdbtest.GoogleIP, http.StatusOK, "US", "Mountain View", float64(15169)},
		{mmdbtest.SparseIP, http.StatusOK, "DE", nil, nil},
		{mmdbtest.CorruptIP, http.StatusNotFound, nil, nil, nil},
		{mmdbtest.MissingIP, http.StatusNotFound, nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/ip/"+tt.ip, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if resp["country_code"] != tt.wantCountry {
				t.Errorf("expected country %v, got %v", tt.wantCountry, resp["country_code"])
			}
			if resp["city"] != tt.wantCity {
				t.Errorf("expected city %v, got %v", tt.wantCity, resp["city"])
			}
			if resp["asn"] != tt.wantASN {
				t.Errorf("expected asn %v, got %v", tt.wantASN, resp["asn"])
			}
			if _, ok := resp["latitude"]; !ok {
				t.Error("expected latitude key to be present even when null")
			}
		})
	}
}
