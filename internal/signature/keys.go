package signature

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// MinKeyBits is the smallest RSA modulus ImportKey accepts.
const MinKeyBits = 2048

// ErrInvalidKey is returned when key material cannot be used for signing or
// verification.
var ErrInvalidKey = errors.New("invalid key material")

// KeyMaterial is a validated RSA key. The zero value holds no key and is
// rejected by Sign and Verify.
type KeyMaterial struct {
	public  *rsa.PublicKey
	private *rsa.PrivateKey
}

// IsPrivate reports whether the key can sign.
func (k KeyMaterial) IsPrivate() bool {
	return k.private != nil
}

// IsZero reports whether k holds no key.
func (k KeyMaterial) IsZero() bool {
	return k.public == nil
}

// Public returns the public half of k.
func (k KeyMaterial) Public() KeyMaterial {
	return KeyMaterial{public: k.public}
}

// Bits returns the modulus size in bits, or 0 for the zero value.
func (k KeyMaterial) Bits() int {
	if k.public == nil {
		return 0
	}
	return k.public.N.BitLen()
}

// Validate checks that k is usable for verification.
func (k KeyMaterial) Validate() error {
	if k.public == nil || k.public.N == nil {
		return fmt.Errorf("%w: no key loaded", ErrInvalidKey)
	}
	if k.public.N.BitLen() < MinKeyBits {
		return fmt.Errorf("%w: %d-bit modulus is below the %d-bit minimum", ErrInvalidKey, k.public.N.BitLen(), MinKeyBits)
	}
	return nil
}

// GenerateKey creates a new private key of the given size.
func GenerateKey(bits int) (KeyMaterial, error) {
	if bits < MinKeyBits {
		return KeyMaterial{}, fmt.Errorf("%w: %d-bit modulus is below the %d-bit minimum", ErrInvalidKey, bits, MinKeyBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("generate key: %w", err)
	}
	return fromPrivate(priv)
}

// LoadKey reads and imports the key file at path.
func LoadKey(path string) (KeyMaterial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("read key file: %w", err)
	}
	k, err := ImportKey(data)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("import %s: %w", path, err)
	}
	return k, nil
}

// ImportKey parses an RSA key from PEM, DER or OpenPGP encoded data.
func ImportKey(data []byte) (KeyMaterial, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return KeyMaterial{}, fmt.Errorf("%w: empty input", ErrInvalidKey)
	}

	// OpenPGP armor carries headers and a CRC line that pem.Decode rejects.
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN PGP ")) {
		keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(trimmed))
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("%w: read armored keyring: %v", ErrInvalidKey, err)
		}
		return fromKeyring(keyring)
	}

	if block, _ := pem.Decode(trimmed); block != nil {
		return fromPEM(block)
	}

	if k, err := fromDER(data); err == nil {
		return k, nil
	}

	keyring, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err == nil {
		return fromKeyring(keyring)
	}

	return KeyMaterial{}, fmt.Errorf("%w: unrecognized key encoding", ErrInvalidKey)
}

func fromPEM(block *pem.Block) (KeyMaterial, error) {
	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return fromPublic(pub)
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return fromCryptoPublic(pub)
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return fromPrivate(priv)
	case "PRIVATE KEY":
		priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return fromCryptoPrivate(priv)
	default:
		return KeyMaterial{}, fmt.Errorf("%w: unsupported PEM block %q", ErrInvalidKey, block.Type)
	}
}

func fromDER(der []byte) (KeyMaterial, error) {
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		return fromCryptoPublic(pub)
	}
	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return fromPublic(pub)
	}
	if priv, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return fromPrivate(priv)
	}
	if priv, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return fromCryptoPrivate(priv)
	}
	return KeyMaterial{}, fmt.Errorf("%w: not DER", ErrInvalidKey)
}

// fromKeyring takes the primary key of the first entity in the keyring.
func fromKeyring(keyring openpgp.EntityList) (KeyMaterial, error) {
	if len(keyring) == 0 {
		return KeyMaterial{}, fmt.Errorf("%w: keyring is empty", ErrInvalidKey)
	}
	entity := keyring[0]

	if entity.PrivateKey != nil {
		if entity.PrivateKey.Encrypted {
			return KeyMaterial{}, fmt.Errorf("%w: OpenPGP private key is passphrase protected", ErrInvalidKey)
		}
		return fromCryptoPrivate(entity.PrivateKey.PrivateKey)
	}
	if entity.PrimaryKey == nil {
		return KeyMaterial{}, fmt.Errorf("%w: keyring entity has no primary key", ErrInvalidKey)
	}
	return fromCryptoPublic(entity.PrimaryKey.PublicKey)
}

func fromCryptoPublic(pub crypto.PublicKey) (KeyMaterial, error) {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return KeyMaterial{}, fmt.Errorf("%w: not an RSA public key (%T)", ErrInvalidKey, pub)
	}
	return fromPublic(rsaPub)
}

func fromCryptoPrivate(priv crypto.PrivateKey) (KeyMaterial, error) {
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return KeyMaterial{}, fmt.Errorf("%w: not an RSA private key (%T)", ErrInvalidKey, priv)
	}
	return fromPrivate(rsaPriv)
}

func fromPublic(pub *rsa.PublicKey) (KeyMaterial, error) {
	k := KeyMaterial{public: pub}
	if err := k.Validate(); err != nil {
		return KeyMaterial{}, err
	}
	return k, nil
}

func fromPrivate(priv *rsa.PrivateKey) (KeyMaterial, error) {
	if err := priv.Validate(); err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k := KeyMaterial{public: &priv.PublicKey, private: priv}
	if err := k.Validate(); err != nil {
		return KeyMaterial{}, err
	}
	return k, nil
}

// MarshalPublicPEM encodes the public half of k as a PKIX "PUBLIC KEY" block.
func MarshalPublicPEM(k KeyMaterial) ([]byte, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(k.public)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// MarshalPrivatePEM encodes k as a PKCS#8 "PRIVATE KEY" block.
func MarshalPrivatePEM(k KeyMaterial) ([]byte, error) {
	if !k.IsPrivate() {
		return nil, fmt.Errorf("%w: key has no private half", ErrInvalidKey)
	}
	der, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
