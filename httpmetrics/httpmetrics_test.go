package httpmetrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRoute(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"/", "/"},
		{"/comments", "/comments"},
		{"/user/abc123", "/user"},
		{"", "/"},
	}
	for _, tc := range testCases {
		if got := Route(tc.in); got != tc.want {
			t.Errorf("Route(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWrapperPassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	New(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("Bad status; got %d, want %d", rec.Code, http.StatusTeapot)
	}
}
