package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantStatus int
		wantBody   string
	}{
		{"疎通OK", &mockPinger{}, http.StatusOK, "ok"},
		{"疎通NG", &mockPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unavailable"},
		{"DBなし", nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.db)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var result map[string]string
			decodeBody(t, w, &result)
			if result["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", result["status"], tt.wantBody)
			}
		})
	}
}
