package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amishk599/leadscout/internal/model"
)

func TestProbe_StatusCodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		path      string
		reachable bool
		status    int
	}{
		{"/ok", true, http.StatusOK},
		{"/moved", true, http.StatusOK},
		{"/gone", false, http.StatusGone},
		{"/broken", false, http.StatusInternalServerError},
	}

	p := New()
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			res, err := p.Probe(context.Background(), srv.URL+tc.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Reachable != tc.reachable || res.StatusCode != tc.status {
				t.Errorf("Probe = %+v, want reachable=%v status=%d", res, tc.reachable, tc.status)
			}
		})
	}
}

func TestProbe_TimeoutIsValidationFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := New(WithTimeout(50 * time.Millisecond))
	_, err := p.Probe(context.Background(), srv.URL)
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestProbe_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New().Probe(context.Background(), addr)
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestProbe_RejectsNonHTTP(t *testing.T) {
	for _, u := range []string{"", "mailto:jobs@example.com", "ftp://example.com/job", "not a url"} {
		if _, err := New().Probe(context.Background(), u); !errors.Is(err, model.ErrValidation) {
			t.Errorf("Probe(%q) error = %v, want ErrValidation", u, err)
		}
	}
}
