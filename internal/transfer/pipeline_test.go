package transfer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/galah-group/galah-installer/internal/signature"
	"github.com/galah-group/galah-installer/internal/testutil"
)

// stageRecorder is a logger that keeps the stage of every transition.
type stageRecorder struct {
	mu     sync.Mutex
	stages []string
	errors int
}

func (r *stageRecorder) Debug(msg string, kv ...interface{}) {
	if msg != "transfer stage" {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == "stage" {
			r.mu.Lock()
			r.stages = append(r.stages, kv[i+1].(string))
			r.mu.Unlock()
		}
	}
}
func (r *stageRecorder) Info(string, ...interface{}) {}
func (r *stageRecorder) Warn(string, ...interface{}) {}
func (r *stageRecorder) Error(string, ...interface{}) {
	r.mu.Lock()
	r.errors++
	r.mu.Unlock()
}

func TestGetFile_Success(t *testing.T) {
	key := testutil.Key(t, 0)
	srv := testutil.NewArtifactServer(t, key)
	content := bytes.Repeat([]byte("galah"), 20000)
	srv.Publish(t, "/packages/galah/0.3.0/installer.tar.gz", content)

	dir := t.TempDir()
	rec := &stageRecorder{}
	p := NewPipeline(Options{TempDir: dir, Logger: rec})

	res, err := p.GetFile(context.Background(), srv.Addr, "/packages/galah/0.3.0/installer.tar.gz",
		key.Public(), 5*time.Second, int64(len(content)))
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}

	for _, path := range []string{res.FilePath, res.SignaturePath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("%s mode = %o, want 600", path, info.Mode().Perm())
		}
	}

	got, _ := os.ReadFile(res.FilePath)
	if !bytes.Equal(got, content) {
		t.Error("downloaded content differs from published content")
	}
	want, _ := signature.Hash(bytes.NewReader(content))
	if res.Digest != want {
		t.Errorf("Digest = %s, want %s", res.Digest, want)
	}

	wantReqs := []string{"/packages/galah/0.3.0/installer.tar.gz", "/packages/galah/0.3.0/installer.tar.gz.sig"}
	if diff := cmp.Diff(wantReqs, srv.Requests()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}

	wantStages := []string{"connecting", "fetching-file", "fetching-signature", "verifying", "done"}
	if diff := cmp.Diff(wantStages, rec.stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	if err := res.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	assertEmptyDir(t, dir)
}

func TestGetFile_VerificationFailures(t *testing.T) {
	const path = "/index/packages.json"
	content := []byte(`{"packages":{"a":["1","2","3"]}}`)

	tests := []struct {
		name       string
		publish    func(t *testing.T, srv *testutil.ArtifactServer)
		wantStages []string
	}{
		{
			name: "missing signature",
			publish: func(t *testing.T, srv *testutil.ArtifactServer) {
				srv.PublishUnsigned(path, content)
			},
			wantStages: []string{"connecting", "fetching-file", "fetching-signature", "failed"},
		},
		{
			name: "signature from another key",
			publish: func(t *testing.T, srv *testutil.ArtifactServer) {
				srv.PublishWithSignature(path, content, testutil.Sign(t, testutil.Key(t, 1), content))
			},
			wantStages: []string{"connecting", "fetching-file", "fetching-signature", "verifying", "failed"},
		},
		{
			name: "bit-flipped payload",
			publish: func(t *testing.T, srv *testutil.ArtifactServer) {
				sig := testutil.Sign(t, testutil.Key(t, 0), content)
				flipped := append([]byte(nil), content...)
				flipped[5] ^= 0x20
				srv.PublishWithSignature(path, flipped, sig)
			},
			wantStages: []string{"connecting", "fetching-file", "fetching-signature", "verifying", "failed"},
		},
		{
			name: "truncated signature",
			publish: func(t *testing.T, srv *testutil.ArtifactServer) {
				sig := testutil.Sign(t, testutil.Key(t, 0), content)
				srv.PublishWithSignature(path, content, sig[:len(sig)/2])
			},
			wantStages: []string{"connecting", "fetching-file", "fetching-signature", "verifying", "failed"},
		},
		{
			name: "empty signature",
			publish: func(t *testing.T, srv *testutil.ArtifactServer) {
				srv.PublishWithSignature(path, content, nil)
			},
			wantStages: []string{"connecting", "fetching-file", "fetching-signature", "verifying", "failed"},
		},
		{
			name: "oversized signature",
			publish: func(t *testing.T, srv *testutil.ArtifactServer) {
				srv.PublishWithSignature(path, content, bytes.Repeat([]byte{1}, MaxSignatureSize+1))
			},
			wantStages: []string{"connecting", "fetching-file", "fetching-signature", "failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewArtifactServer(t, testutil.Key(t, 0))
			tt.publish(t, srv)

			dir := t.TempDir()
			rec := &stageRecorder{}
			p := NewPipeline(Options{TempDir: dir, Logger: rec})

			res, err := p.GetFile(context.Background(), srv.Addr, path, testutil.Key(t, 0).Public(), 5*time.Second, 1<<20)
			if res != nil {
				t.Errorf("GetFile() result = %+v, want nil", res)
			}

			var verr *VerificationError
			if !errors.As(err, &verr) {
				t.Fatalf("GetFile() error = %v, want VerificationError", err)
			}
			if verr.Server != srv.Addr || verr.Path != path {
				t.Errorf("VerificationError = {%s %s}, want {%s %s}", verr.Server, verr.Path, srv.Addr, path)
			}
			if !strings.Contains(err.Error(), "not trustworthy") {
				t.Errorf("error %q does not say the artifact is untrustworthy", err)
			}
			if strings.Contains(err.Error(), "status") {
				t.Errorf("error %q leaks transport detail", err)
			}
			var terr *TransportError
			if errors.As(err, &terr) {
				t.Error("VerificationError must not match TransportError")
			}

			assertEmptyDir(t, dir)
			if diff := cmp.Diff(tt.wantStages, rec.stages); diff != "" {
				t.Errorf("stages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetFile_TransportFailures(t *testing.T) {
	key := testutil.Key(t, 0)

	t.Run("artifact missing", func(t *testing.T) {
		srv := testutil.NewArtifactServer(t, key)
		dir := t.TempDir()
		p := NewPipeline(Options{TempDir: dir})

		_, err := p.GetFile(context.Background(), srv.Addr, "/nope", key.Public(), 5*time.Second, 1024)
		var terr *TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("GetFile() error = %v, want TransportError", err)
		}
		if terr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want 404", terr.StatusCode)
		}
		var verr *VerificationError
		if errors.As(err, &verr) {
			t.Error("a missing artifact is not a verification failure")
		}
		assertEmptyDir(t, dir)
	})

	t.Run("artifact too large", func(t *testing.T) {
		srv := testutil.NewArtifactServer(t, key)
		srv.Publish(t, "/big", bytes.Repeat([]byte{7}, 2048))
		dir := t.TempDir()
		p := NewPipeline(Options{TempDir: dir})

		_, err := p.GetFile(context.Background(), srv.Addr, "/big", key.Public(), 5*time.Second, 2047)
		if !errors.Is(err, ErrSizeLimitExceeded) {
			t.Fatalf("GetFile() error = %v, want ErrSizeLimitExceeded", err)
		}
		if got := srv.Requests(); len(got) != 1 {
			t.Errorf("requests = %v, want only the artifact", got)
		}
		assertEmptyDir(t, dir)
	})

	t.Run("server unreachable", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addr := ln.Addr().String()
		ln.Close()

		rec := &stageRecorder{}
		p := NewPipeline(Options{TempDir: t.TempDir(), Logger: rec})
		_, err = p.GetFile(context.Background(), addr, "/x", key.Public(), time.Second, 1024)
		var terr *TransportError
		if !errors.As(err, &terr) || terr.Op != "connect" {
			t.Fatalf("GetFile() error = %v, want connect TransportError", err)
		}
		if diff := cmp.Diff([]string{"connecting", "failed"}, rec.stages); diff != "" {
			t.Errorf("stages mismatch (-want +got):\n%s", diff)
		}
	})
}

// removeDirOnDone deletes dir once the first download finishes, so the
// signature download cannot create its temp file.
type removeDirOnDone struct {
	t    *testing.T
	dir  string
	done bool
}

func (r *removeDirOnDone) Start(string, int64) {}
func (r *removeDirOnDone) Advance(int)         {}
func (r *removeDirOnDone) Done() {
	if r.done {
		return
	}
	r.done = true
	if err := os.RemoveAll(r.dir); err != nil {
		r.t.Errorf("remove temp dir: %v", err)
	}
}

func TestGetFile_LocalSignatureFailureIsNotVerificationError(t *testing.T) {
	key := testutil.Key(t, 0)
	srv := testutil.NewArtifactServer(t, key)
	srv.Publish(t, "/a", []byte("artifact"))

	dir := filepath.Join(t.TempDir(), "downloads")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := NewPipeline(Options{TempDir: dir, Progress: &removeDirOnDone{t: t, dir: dir}})

	_, err := p.GetFile(context.Background(), srv.Addr, "/a", key.Public(), 5*time.Second, 1024)
	if err == nil {
		t.Fatal("GetFile() succeeded without a temp dir")
	}
	var verr *VerificationError
	if errors.As(err, &verr) {
		t.Fatalf("GetFile() error = %v, a local failure must not read as untrustworthy", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("GetFile() error = %v, want the temp file failure", err)
	}
}

func TestGetFile_RejectsBadInputBeforeConnecting(t *testing.T) {
	srv := testutil.NewArtifactServer(t, testutil.Key(t, 0))
	srv.Publish(t, "/a", []byte("a"))
	p := NewPipeline(Options{TempDir: t.TempDir()})

	_, err := p.GetFile(context.Background(), srv.Addr, "/a", signature.KeyMaterial{}, time.Second, 1024)
	if !errors.Is(err, signature.ErrInvalidKey) {
		t.Errorf("GetFile(zero key) error = %v, want ErrInvalidKey", err)
	}

	_, err = p.GetFile(context.Background(), srv.Addr, "a", testutil.Key(t, 0).Public(), time.Second, 1024)
	if !errors.Is(err, ErrInvalidPath) {
		t.Errorf("GetFile(relative path) error = %v, want ErrInvalidPath", err)
	}

	if got := srv.Requests(); len(got) != 0 {
		t.Errorf("server received %v, want no requests", got)
	}
}

func TestGetFile_Concurrent(t *testing.T) {
	key := testutil.Key(t, 0)
	srv := testutil.NewArtifactServer(t, key)
	paths := []string{"/a", "/b", "/c", "/d"}
	for _, p := range paths {
		srv.Publish(t, p, []byte("content of "+p))
	}

	p := NewPipeline(Options{TempDir: t.TempDir()})

	var wg sync.WaitGroup
	errs := make(chan error, len(paths))
	for _, path := range paths {
		path := path
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.GetFile(context.Background(), srv.Addr, path, key.Public(), 5*time.Second, 1024)
			if err != nil {
				errs <- err
				return
			}
			got, _ := os.ReadFile(res.FilePath)
			if string(got) != "content of "+path {
				errs <- errors.New("content mismatch for " + path)
			}
			res.Remove()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
