package signature

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// chunkSize is the read size used while hashing.
const chunkSize = 32 * 1024

// Digest is a SHA-512 digest.
type Digest [sha512.Size]byte

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Hash consumes r in fixed-size chunks and returns its SHA-512 digest.
func Hash(r io.Reader) (Digest, error) {
	var d Digest

	h := sha512.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return d, fmt.Errorf("read: %w", err)
		}
	}

	copy(d[:], h.Sum(nil))
	return d, nil
}

// HashFile returns the SHA-512 digest of the file at path.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	d, err := Hash(f)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}
