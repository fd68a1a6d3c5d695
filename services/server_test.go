package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckOriginAgainstAllowList(t *testing.T) {
	const frontends = "https://visaprep.app, http://localhost:5173"

	tests := []struct {
		name    string
		allowed string
		origin  string
		want    bool
	}{
		{name: "production frontend", allowed: frontends, origin: "https://visaprep.app", want: true},
		{name: "dev server after a space", allowed: frontends, origin: "http://localhost:5173", want: true},
		{name: "dev server on another port", allowed: frontends, origin: "http://localhost:3000", want: false},
		{name: "scheme differs", allowed: frontends, origin: "http://visaprep.app", want: false},
		{name: "no origin header", allowed: frontends, origin: "", want: false},
		{name: "nothing configured", allowed: "", origin: "https://visaprep.app", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/visa/live/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := CheckOrigin(req, tt.allowed); got != tt.want {
				t.Errorf("CheckOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestRoutesWithoutBackends(t *testing.T) {
	router := NewServer(&Config{}).SetupRoutes()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/health", want: http.StatusOK},
		{method: http.MethodGet, path: "/api/v1/", want: http.StatusOK},
		{method: http.MethodPost, path: "/api/v1/visa/mock/start", want: http.StatusNotFound},
		{method: http.MethodGet, path: "/api/v1/visa/live/ws", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHealthReportsUnconfiguredBackends(t *testing.T) {
	router := NewServer(&Config{}).SetupRoutes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"status": "ok", "database": "not configured", "redis": "not configured"}
	for key, value := range want {
		if body[key] != value {
			t.Errorf("%s = %q, want %q", key, body[key], value)
		}
	}
}
