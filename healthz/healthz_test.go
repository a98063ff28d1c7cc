package healthz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandler(t *testing.T) {
	testCases := []struct {
		name   string
		checks []CheckFunc
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"passing", []CheckFunc{func(context.Context) error { return nil }}, http.StatusOK},
		{"failing", []CheckFunc{func(context.Context) error { return errors.New("db down") }}, http.StatusServiceUnavailable},
	}
	for _, tc := range testCases {
		rec := httptest.NewRecorder()
		New(tc.checks...).ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
		if rec.Code != tc.want {
			t.Errorf("%s: got status %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}
