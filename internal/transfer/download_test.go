package transfer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// newServer starts an httptest server and returns its host:port.
func newServer(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func dialT(t *testing.T, addr string, timeout time.Duration) *Conn {
	t.Helper()
	conn, err := Dial(context.Background(), addr, timeout)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	list, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(list) != 0 {
		names := make([]string, 0, len(list))
		for _, e := range list {
			names = append(names, e.Name())
		}
		t.Errorf("temp dir contains %v, want nothing", names)
	}
}

func TestDownloader_SizeLimit(t *testing.T) {
	const maxSize = 100*1024 + 7

	tests := []struct {
		name    string
		size    int
		chunked bool
		wantErr bool
	}{
		{name: "below limit", size: maxSize - 1},
		{name: "exactly limit", size: maxSize},
		{name: "exactly limit chunked", size: maxSize, chunked: true},
		{name: "one byte over", size: maxSize + 1, wantErr: true},
		{name: "one byte over chunked", size: maxSize + 1, chunked: true, wantErr: true},
		{name: "far over chunked", size: 10 * maxSize, chunked: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := bytes.Repeat([]byte{'z'}, tt.size)
			addr := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !tt.chunked {
					w.Header().Set("Content-Length", strconv.Itoa(len(body)))
					w.Write(body)
					return
				}
				// Flushing forces chunked encoding with no Content-Length.
				f := w.(http.Flusher)
				for off := 0; off < len(body); off += 4096 {
					end := min(off+4096, len(body))
					if _, err := w.Write(body[off:end]); err != nil {
						return
					}
					f.Flush()
				}
			}))

			dir := t.TempDir()
			d := NewDownloader(Options{TempDir: dir})
			conn := dialT(t, addr, 5*time.Second)

			path, err := d.Get(context.Background(), conn, "/blob", maxSize)
			if tt.wantErr {
				if !errors.Is(err, ErrSizeLimitExceeded) {
					t.Fatalf("Get() error = %v, want ErrSizeLimitExceeded", err)
				}
				assertEmptyDir(t, dir)
				return
			}
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}

			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read download: %v", err)
			}
			if !bytes.Equal(got, body) {
				t.Errorf("downloaded %d bytes, want %d", len(got), len(body))
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if info.Mode().Perm() != FileMode {
				t.Errorf("mode = %o, want %o", info.Mode().Perm(), FileMode)
			}
		})
	}
}

func TestDownloader_Non200IsTransportError(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "no content", status: http.StatusNoContent},
		{name: "partial content", status: http.StatusPartialContent},
		{name: "redirect is not followed", status: http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusFound {
					http.Redirect(w, r, "/elsewhere", tt.status)
					return
				}
				w.WriteHeader(tt.status)
			}))

			dir := t.TempDir()
			d := NewDownloader(Options{TempDir: dir})
			conn := dialT(t, addr, 5*time.Second)

			_, err := d.Get(context.Background(), conn, "/blob", 1024)
			var terr *TransportError
			if !errors.As(err, &terr) {
				t.Fatalf("Get() error = %v, want TransportError", err)
			}
			if terr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", terr.StatusCode, tt.status)
			}
			assertEmptyDir(t, dir)
		})
	}
}

func TestDownloader_RequestHeaders(t *testing.T) {
	var gotUA, gotEncoding string
	addr := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Write([]byte("ok"))
	}))

	d := NewDownloader(Options{TempDir: t.TempDir()})
	conn := dialT(t, addr, 5*time.Second)
	if _, err := d.Get(context.Background(), conn, "/blob", 1024); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if gotUA != UserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, UserAgent)
	}
	if gotEncoding != "" {
		t.Errorf("Accept-Encoding = %q, want none", gotEncoding)
	}
}

func TestDownloader_ReadTimeout(t *testing.T) {
	addr := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("0123456789"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))

	dir := t.TempDir()
	d := NewDownloader(Options{TempDir: dir})
	conn := dialT(t, addr, 200*time.Millisecond)

	start := time.Now()
	_, err := d.Get(context.Background(), conn, "/slow", 1024)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Get() error = %v, want TransportError", err)
	}
	if !terr.Timeout() {
		t.Errorf("Timeout() = false for %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Get() took %v, want it bounded by the read timeout", elapsed)
	}
	assertEmptyDir(t, dir)
}

func TestConn_InvalidPath(t *testing.T) {
	addr := newServer(t, http.NotFoundHandler())
	conn := dialT(t, addr, time.Second)

	for _, p := range []string{"", "blob", "http://evil/blob"} {
		if _, err := conn.Get(context.Background(), p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Get(%q) error = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestDial_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, time.Second)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Dial() error = %v, want TransportError", err)
	}
	if terr.Op != "connect" {
		t.Errorf("Op = %q, want connect", terr.Op)
	}
}

func TestWithDefaultPort(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"updates.example.org", "updates.example.org:80"},
		{"updates.example.org:8080", "updates.example.org:8080"},
		{"10.0.0.1", "10.0.0.1:80"},
		{"::1", "[::1]:80"},
		{"[::1]:9000", "[::1]:9000"},
	}
	for _, tt := range tests {
		if got := withDefaultPort(tt.in); got != tt.want {
			t.Errorf("withDefaultPort(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type recordingProgress struct {
	started  bool
	size     int64
	advanced int
	done     bool
}

func (p *recordingProgress) Start(path string, size int64) { p.started, p.size = true, size }
func (p *recordingProgress) Advance(n int)                 { p.advanced += n }
func (p *recordingProgress) Done()                         { p.done = true }

func TestDownloader_Progress(t *testing.T) {
	body := bytes.Repeat([]byte("p"), 3*chunkSize+5)
	addr := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))

	progress := &recordingProgress{}
	d := NewDownloader(Options{TempDir: t.TempDir(), Progress: progress})
	conn := dialT(t, addr, 5*time.Second)

	if _, err := d.Get(context.Background(), conn, "/blob", int64(len(body))); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !progress.started || !progress.done {
		t.Errorf("progress started=%v done=%v, want both", progress.started, progress.done)
	}
	if progress.size != int64(len(body)) {
		t.Errorf("progress size = %d, want %d", progress.size, len(body))
	}
	if progress.advanced != len(body) {
		t.Errorf("progress advanced = %d, want %d", progress.advanced, len(body))
	}
}
