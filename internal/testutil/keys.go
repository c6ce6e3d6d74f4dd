package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/galah-group/galah-installer/internal/signature"
)

// keyPoolSize is the number of distinct fixture keys.
const keyPoolSize = 3

var (
	keyPoolOnce sync.Once
	keyPool     []signature.KeyMaterial
	keyPoolErr  error
)

// Key returns fixture private key i (0 <= i < 3). Keys are generated once
// per test binary; distinct indexes are distinct keys.
func Key(t testing.TB, i int) signature.KeyMaterial {
	t.Helper()

	keyPoolOnce.Do(func() {
		for n := 0; n < keyPoolSize; n++ {
			k, err := signature.GenerateKey(2048)
			if err != nil {
				keyPoolErr = err
				return
			}
			keyPool = append(keyPool, k)
		}
	})
	if keyPoolErr != nil {
		t.Fatalf("generate fixture keys: %v", keyPoolErr)
	}
	if i < 0 || i >= len(keyPool) {
		t.Fatalf("fixture key %d out of range", i)
	}
	return keyPool[i]
}

// WritePublicKey stores the public half of k as PEM in dir and returns the
// file's path.
func WritePublicKey(t testing.TB, dir string, k signature.KeyMaterial) string {
	t.Helper()

	data, err := signature.MarshalPublicPEM(k)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	path := filepath.Join(dir, "release.pub.pem")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return path
}

// WritePrivateKey stores k as PEM in dir and returns the file's path.
func WritePrivateKey(t testing.TB, dir string, k signature.KeyMaterial) string {
	t.Helper()

	data, err := signature.MarshalPrivatePEM(k)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	path := filepath.Join(dir, "release.pem")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	return path
}

// Sign returns a detached signature of content made with k.
func Sign(t testing.TB, k signature.KeyMaterial, content []byte) []byte {
	t.Helper()

	digest, err := signature.Hash(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("hash content: %v", err)
	}
	sig, err := signature.Sign(digest, k)
	if err != nil {
		t.Fatalf("sign content: %v", err)
	}
	return sig
}
