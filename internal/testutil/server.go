package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/galah-group/galah-installer/internal/signature"
)

// ArtifactServer is an httptest server that serves published artifacts and
// their ".sig" companions, answering 404 for everything else.
type ArtifactServer struct {
	*httptest.Server

	// Addr is the host:port to hand to transfer.Dial.
	Addr string

	key signature.KeyMaterial

	mu       sync.Mutex
	files    map[string][]byte
	requests []string
}

// NewArtifactServer starts a server signing with k. It is closed when the
// test ends.
func NewArtifactServer(t testing.TB, k signature.KeyMaterial) *ArtifactServer {
	t.Helper()

	s := &ArtifactServer{
		key:   k,
		files: make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	s.Addr = strings.TrimPrefix(s.Server.URL, "http://")
	t.Cleanup(s.Server.Close)
	return s
}

func (s *ArtifactServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Path)
	body, ok := s.files[r.URL.Path]
	s.mu.Unlock()

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Publish serves content at path and a valid signature at path+".sig".
func (s *ArtifactServer) Publish(t testing.TB, path string, content []byte) {
	t.Helper()
	s.PublishWithSignature(path, content, Sign(t, s.key, content))
}

// PublishWithSignature serves content and sig verbatim.
func (s *ArtifactServer) PublishWithSignature(path string, content, sig []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte(nil), content...)
	s.files[path+".sig"] = append([]byte(nil), sig...)
}

// PublishUnsigned serves content at path with no signature.
func (s *ArtifactServer) PublishUnsigned(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte(nil), content...)
	delete(s.files, path+".sig")
}

// Requests returns the request paths received so far, in order.
func (s *ArtifactServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}
