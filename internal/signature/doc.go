// Package signature provides the cryptographic primitives used to decide
// whether a downloaded artifact can be trusted.
//
// # Scheme
//
// Every artifact published by the update server has a detached signature at
// "<path>.sig". The signature is RSASSA-PSS (RFC 3447) over the SHA-512
// digest of the artifact, with a salt as long as the digest. Both the digest
// algorithm and the signature scheme are fixed.
//
// # Keys
//
// Keys enter the package through a single fallible call, ImportKey, and are
// opaque afterwards. ImportKey accepts:
//   - PEM blocks: RSA PUBLIC KEY, PUBLIC KEY, RSA PRIVATE KEY, PRIVATE KEY
//   - raw DER in PKIX, PKCS#1 or PKCS#8 form
//   - OpenPGP keyrings, armored or binary, whose primary key is RSA
//
// # Verification
//
// Verify reports a bad, truncated or foreign signature as false. The only
// error it returns is ErrInvalidKey, which means the caller handed over a key
// that cannot verify anything at all.
package signature
