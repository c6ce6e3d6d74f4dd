package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"os"
)

// Signature is a detached RSASSA-PSS signature over a Digest.
type Signature []byte

// pssOptions fixes the salt length to the digest size.
var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthEqualsHash,
	Hash:       crypto.SHA512,
}

// Sign produces a probabilistic signature over digest. key must be private.
func Sign(digest Digest, key KeyMaterial) (Signature, error) {
	if !key.IsPrivate() {
		return nil, fmt.Errorf("%w: signing requires a private key", ErrInvalidKey)
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	sig, err := rsa.SignPSS(rand.Reader, key.private, crypto.SHA512, digest[:], pssOptions)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature of digest under key.
// Malformed or mismatched signatures yield false with a nil error; only a
// structurally invalid key yields ErrInvalidKey.
func Verify(digest Digest, sig Signature, key KeyMaterial) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	if len(sig) == 0 {
		return false, nil
	}
	return rsa.VerifyPSS(key.public, crypto.SHA512, digest[:], sig, pssOptions) == nil, nil
}

// SignReader hashes r and signs the digest.
func SignReader(r io.Reader, key KeyMaterial) (Signature, error) {
	digest, err := Hash(r)
	if err != nil {
		return nil, fmt.Errorf("hash input: %w", err)
	}
	return Sign(digest, key)
}

// SignFile signs the contents of the file at path.
func SignFile(path string, key KeyMaterial) (Signature, error) {
	digest, err := HashFile(path)
	if err != nil {
		return nil, err
	}
	return Sign(digest, key)
}

// VerifyFile checks the file at path against the detached signature stored at
// sigPath. The returned digest is that of the file, valid or not.
func VerifyFile(path, sigPath string, key KeyMaterial) (bool, Digest, error) {
	if err := key.Validate(); err != nil {
		return false, Digest{}, err
	}

	digest, err := HashFile(path)
	if err != nil {
		return false, Digest{}, err
	}

	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return false, digest, fmt.Errorf("read signature: %w", err)
	}

	ok, err := Verify(digest, sig, key)
	return ok, digest, err
}
