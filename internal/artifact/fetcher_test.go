package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/galah-group/galah-installer/internal/planner"
	"github.com/galah-group/galah-installer/internal/signature"
	"github.com/galah-group/galah-installer/internal/testutil"
	"github.com/galah-group/galah-installer/internal/transfer"
)

var testPlan = []planner.Action{
	planner.Migrate{Name: "galah", From: "0.1.0", To: "0.2.0"},
	planner.Migrate{Name: "galah", From: "0.2.0", To: "0.3.0"},
	planner.Install{Name: "galah", Version: "0.3.0"},
	planner.Install{Name: "helper", Version: "1.0"},
}

func publishPlan(t *testing.T, srv *testutil.ArtifactServer, arts []Artifact) {
	t.Helper()
	for _, a := range arts {
		srv.Publish(t, a.Path, []byte("archive for "+a.Action.String()))
	}
}

func newFetcher(t *testing.T, srv *testutil.ArtifactServer, cacheDir string, onComplete func(Artifact, error)) *Fetcher {
	t.Helper()
	f, err := NewFetcher(Config{
		Server:     srv.Addr,
		Key:        testutil.Key(t, 0).Public(),
		Timeout:    5 * time.Second,
		MaxSize:    1 << 20,
		CacheDir:   cacheDir,
		Workers:    3,
		OnComplete: onComplete,
	})
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	return f
}

func TestFetcher_FetchesAndCaches(t *testing.T) {
	srv := testutil.NewArtifactServer(t, testutil.Key(t, 0))
	arts := Resolve(testPlan)
	publishPlan(t, srv, arts)

	cache := t.TempDir()
	var mu sync.Mutex
	completed := 0
	f := newFetcher(t, srv, cache, func(a Artifact, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			t.Errorf("artifact %s failed: %v", a.Path, err)
		}
		completed++
	})

	got, err := f.Fetch(context.Background(), arts)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != len(arts) || completed != len(arts) {
		t.Fatalf("got %d results, %d completions; want %d", len(got), completed, len(arts))
	}

	for i, r := range got {
		if r.Path != arts[i].Path {
			t.Errorf("result %d path = %s, want %s (results must keep input order)", i, r.Path, arts[i].Path)
		}
		if r.Cached {
			t.Errorf("result %d reported cached on first fetch", i)
		}
		if r.FilePath != arts[i].CachePath(cache) {
			t.Errorf("result %d file = %s, want %s", i, r.FilePath, arts[i].CachePath(cache))
		}

		content, err := os.ReadFile(r.FilePath)
		if err != nil {
			t.Fatalf("read cached artifact: %v", err)
		}
		if string(content) != "archive for "+arts[i].Action.String() {
			t.Errorf("cached content = %q", content)
		}
		for _, p := range []string{r.FilePath, r.SignaturePath} {
			info, err := os.Stat(p)
			if err != nil {
				t.Fatalf("stat %s: %v", p, err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("%s mode = %o, want 600", p, info.Mode().Perm())
			}
		}
		ok, _, err := signature.VerifyFile(r.FilePath, r.SignaturePath, testutil.Key(t, 0).Public())
		if err != nil || !ok {
			t.Errorf("cached pair %d does not verify: %v %v", i, ok, err)
		}
	}

	leftovers, _ := os.ReadDir(filepath.Join(cache, downloadDirName))
	if len(leftovers) != 0 {
		t.Errorf("download directory has %d leftover files", len(leftovers))
	}

	requests := len(srv.Requests())
	again, err := f.Fetch(context.Background(), arts)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if len(srv.Requests()) != requests {
		t.Errorf("second fetch made %d new requests, want 0", len(srv.Requests())-requests)
	}
	for i, r := range again {
		if !r.Cached {
			t.Errorf("result %d not served from cache", i)
		}
		if r.Digest != got[i].Digest {
			t.Errorf("result %d digest changed", i)
		}
	}
}

func TestFetcher_RefetchesTamperedCache(t *testing.T) {
	srv := testutil.NewArtifactServer(t, testutil.Key(t, 0))
	arts := Resolve(testPlan[2:3])
	publishPlan(t, srv, arts)

	cache := t.TempDir()
	f := newFetcher(t, srv, cache, nil)

	first, err := f.Fetch(context.Background(), arts)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if err := os.WriteFile(first[0].FilePath, []byte("tampered"), 0600); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	second, err := f.Fetch(context.Background(), arts)
	if err != nil {
		t.Fatalf("Fetch() after tampering error = %v", err)
	}
	if second[0].Cached {
		t.Error("tampered cache entry was trusted")
	}
	content, _ := os.ReadFile(second[0].FilePath)
	if string(content) != "archive for "+arts[0].Action.String() {
		t.Errorf("cache not repaired, content = %q", content)
	}
}

func TestFetcher_FirstErrorWins(t *testing.T) {
	srv := testutil.NewArtifactServer(t, testutil.Key(t, 0))
	arts := Resolve(testPlan)
	// Everything but the last artifact is published.
	publishPlan(t, srv, arts[:len(arts)-1])

	cache := t.TempDir()
	f := newFetcher(t, srv, cache, nil)

	got, err := f.Fetch(context.Background(), arts)
	if got != nil {
		t.Errorf("Fetch() returned results alongside an error")
	}
	var terr *transfer.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Fetch() error = %v, want TransportError", err)
	}
	if terr.Path != arts[len(arts)-1].Path {
		t.Errorf("failing path = %s, want %s", terr.Path, arts[len(arts)-1].Path)
	}
}

func TestFetcher_UntrustedArtifact(t *testing.T) {
	// The server signs with a key the fetcher does not trust.
	srv := testutil.NewArtifactServer(t, testutil.Key(t, 1))
	arts := Resolve(testPlan[:1])
	publishPlan(t, srv, arts)

	cache := t.TempDir()
	f := newFetcher(t, srv, cache, nil)

	_, err := f.Fetch(context.Background(), arts)
	var verr *transfer.VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("Fetch() error = %v, want VerificationError", err)
	}
	if _, err := os.Stat(arts[0].CachePath(cache)); !os.IsNotExist(err) {
		t.Error("untrusted artifact reached the cache")
	}
}

func TestFetcher_Cancelled(t *testing.T) {
	srv := testutil.NewArtifactServer(t, testutil.Key(t, 0))
	arts := Resolve(testPlan)
	publishPlan(t, srv, arts)

	f := newFetcher(t, srv, t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Fetch(ctx, arts); err == nil {
		t.Error("Fetch() with cancelled context error = nil")
	}
}

func TestNewFetcher_Validation(t *testing.T) {
	key := testutil.Key(t, 0).Public()
	base := Config{Server: "localhost", Key: key, MaxSize: 1, CacheDir: t.TempDir()}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing server", func(c *Config) { c.Server = "" }},
		{"missing cache dir", func(c *Config) { c.CacheDir = "" }},
		{"zero max size", func(c *Config) { c.MaxSize = 0 }},
		{"zero key", func(c *Config) { c.Key = signature.KeyMaterial{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := NewFetcher(cfg); err == nil {
				t.Error("NewFetcher() error = nil, want error")
			}
		})
	}

	f, err := NewFetcher(base)
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	if f.cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want default %d", f.cfg.Workers, DefaultWorkers)
	}
}
