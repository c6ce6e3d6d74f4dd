package signature

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

func TestImportKey_Encodings(t *testing.T) {
	k := keys(t)[0]
	priv := k.private

	pkixDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pkcs8DER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}

	tests := []struct {
		name        string
		data        []byte
		wantPrivate bool
	}{
		{
			name: "pem_pkix_public",
			data: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkixDER}),
		},
		{
			name: "pem_pkcs1_public",
			data: pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)}),
		},
		{
			name:        "pem_pkcs1_private",
			data:        pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}),
			wantPrivate: true,
		},
		{
			name:        "pem_pkcs8_private",
			data:        pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8DER}),
			wantPrivate: true,
		},
		{
			name: "der_pkix_public",
			data: pkixDER,
		},
		{
			name:        "der_pkcs1_private",
			data:        x509.MarshalPKCS1PrivateKey(priv),
			wantPrivate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ImportKey(tt.data)
			if err != nil {
				t.Fatalf("ImportKey() error = %v", err)
			}
			if got.IsPrivate() != tt.wantPrivate {
				t.Errorf("IsPrivate() = %v, want %v", got.IsPrivate(), tt.wantPrivate)
			}
			if got.Bits() != 2048 {
				t.Errorf("Bits() = %d, want 2048", got.Bits())
			}
			if got.public.N.Cmp(priv.PublicKey.N) != 0 {
				t.Error("imported modulus does not match")
			}
		})
	}
}

func TestImportKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "whitespace", data: []byte("  \n\t")},
		{name: "garbage", data: []byte("definitely not a key")},
		{name: "unsupported_pem", data: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: []byte{1, 2, 3}})},
		{name: "corrupt_pkix", data: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1, 2, 3}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportKey(tt.data)
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ImportKey() error = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestImportKey_RejectsSmallModulus(t *testing.T) {
	small, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&small.PublicKey)})

	_, err = ImportKey(data)
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ImportKey(1024-bit) error = %v, want ErrInvalidKey", err)
	}
}

func TestImportKey_OpenPGP(t *testing.T) {
	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoRSA, RSABits: 2048}
	entity, err := openpgp.NewEntity("Release Signing", "test", "release@example.org", cfg)
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}

	var armored bytes.Buffer
	w, err := armor.Encode(&armored, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor.Encode: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}

	pub, err := ImportKey(armored.Bytes())
	if err != nil {
		t.Fatalf("ImportKey(armored) error = %v", err)
	}
	if pub.IsPrivate() {
		t.Error("armored public keyring imported as private")
	}

	var binary bytes.Buffer
	if err := entity.SerializePrivate(&binary, nil); err != nil {
		t.Fatalf("SerializePrivate: %v", err)
	}
	priv, err := ImportKey(binary.Bytes())
	if err != nil {
		t.Fatalf("ImportKey(binary private) error = %v", err)
	}
	if !priv.IsPrivate() {
		t.Fatal("binary private keyring imported as public")
	}

	// The OpenPGP private key signs, the armored public key verifies.
	digest, _ := Hash(strings.NewReader("signed with an OpenPGP key"))
	sig, err := Sign(digest, priv)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	ok, err := Verify(digest, sig, pub)
	if err != nil || !ok {
		t.Errorf("Verify() = %v, %v; want true, nil", ok, err)
	}
}

func TestMarshalPEM_RoundTrip(t *testing.T) {
	k := keys(t)[1]
	dir := t.TempDir()

	privPEM, err := MarshalPrivatePEM(k)
	if err != nil {
		t.Fatalf("MarshalPrivatePEM() error = %v", err)
	}
	pubPEM, err := MarshalPublicPEM(k)
	if err != nil {
		t.Fatalf("MarshalPublicPEM() error = %v", err)
	}

	pubPath := filepath.Join(dir, "release.pub.pem")
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		t.Fatalf("write public key: %v", err)
	}

	loadedPub, err := LoadKey(pubPath)
	if err != nil {
		t.Fatalf("LoadKey() error = %v", err)
	}
	loadedPriv, err := ImportKey(privPEM)
	if err != nil {
		t.Fatalf("ImportKey(private) error = %v", err)
	}

	digest, _ := Hash(strings.NewReader("round trip"))
	sig, err := Sign(digest, loadedPriv)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if ok, _ := Verify(digest, sig, loadedPub); !ok {
		t.Error("signature from re-imported private key failed verification")
	}

	if _, err := MarshalPrivatePEM(k.Public()); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("MarshalPrivatePEM(public) error = %v, want ErrInvalidKey", err)
	}
}

func TestLoadKey_MissingFile(t *testing.T) {
	_, err := LoadKey(filepath.Join(t.TempDir(), "nope.pem"))
	if err == nil {
		t.Fatal("expected error for missing key file")
	}
	if errors.Is(err, ErrInvalidKey) {
		t.Error("a missing file is an I/O error, not ErrInvalidKey")
	}
}
