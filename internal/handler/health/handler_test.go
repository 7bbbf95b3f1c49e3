package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestHealth(t *testing.T) {
	// Set Gin to test mode
	gin.SetMode(gin.TestMode)

	// Health must not depend on readiness
	handler := NewHandler(Info{Name: "geolocator", Version: "test"}, func() error {
		return errors.New("location database: database unavailable")
	})
	handler.now = func() time.Time { return time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("CET", 3600)) }

	router := gin.New()
	router.GET("/health", handler.Health)

	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	expectedBody := `{"status":"healthy","timestamp":"2024-01-15T09:30:00Z"}`
	if w.Body.String() != expectedBody {
		t.Errorf("Expected body %s, got %s", expectedBody, w.Body.String())
	}
}

func TestReady(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name         string
		readyFn      func() error
		expectedCode int
		expectedBody string
	}{
		{
			name:         "no check",
			readyFn:      nil,
			expectedCode: http.StatusOK,
			expectedBody: `{"status":"ready"}`,
		},
		{
			name:         "loaded",
			readyFn:      func() error { return nil },
			expectedCode: http.StatusOK,
			expectedBody: `{"status":"ready"}`,
		},
		{
			name:         "not loaded",
			readyFn:      func() error { return errors.New("location database: database unavailable") },
			expectedCode: http.StatusServiceUnavailable,
			expectedBody: `{"error":"location database: database unavailable","status":"not ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(Info{}, tt.readyFn)

			router := gin.New()
			router.GET("/ready", handler.Ready)

			req, err := http.NewRequest("GET", "/ready", nil)
			if err != nil {
				t.Fatalf("Failed to create request: %v", err)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedCode {
				t.Errorf("Expected status %d, got %d", tt.expectedCode, w.Code)
			}
			if w.Body.String() != tt.expectedBody {
				t.Errorf("Expected body %s, got %s", tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(Info{Name: "geolocator", Version: "1.2.3"}, nil)

	router := gin.New()
	router.GET("/", handler.Info)

	req, err := http.NewRequest("GET", "/", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	expectedBody := `{"name":"geolocator","version":"1.2.3"}`
	if w.Body.String() != expectedBody {
		t.Errorf("Expected body %s, got %s", expectedBody, w.Body.String())
	}
}
