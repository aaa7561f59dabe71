package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	logx "dailycast/pkg/logx"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	var (
		mu        sync.Mutex
		healthErr error
	)
	health := func() error {
		mu.Lock()
		defer mu.Unlock()
		return healthErr
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("dailycast_up 1\n")) })
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "secret"}, metrics, health, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()
	base := "http://" + s.Addr()

	if code, _ := get(t, base+"/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: code=%d", code)
	}
	if code, body := get(t, base+"/healthz", "secret"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	if code, body := get(t, base+"/metrics?token=secret", ""); code != http.StatusOK || body != "dailycast_up 1\n" {
		t.Fatalf("metrics: %d %q", code, body)
	}
	mu.Lock()
	healthErr = errors.New("stream quotes stopped")
	mu.Unlock()
	if code, _ := get(t, base+"/healthz", "secret"); code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: code=%d", code)
	}
	if code, _ := get(t, base+"/debug/pprof/", "secret"); code != http.StatusNotFound {
		t.Fatalf("pprof should be off: code=%d", code)
	}
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		s.Stop(context.Background())
		t.Fatalf("expected refusal")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"10.0.0.1:9090":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v, want %v", in, got, want)
		}
	}
}
