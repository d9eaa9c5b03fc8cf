package certificate

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Signature algorithms.
const (
	AlgECDSAP256 = "ECDSA-P256-SHA256"
	AlgEd25519   = "Ed25519"
)

var (
	ErrNoPrivateKey = errors.New("no private key configured")
	ErrInvalidKey   = errors.New("unsupported key type")
)

// Signer signs certificate digests.
type Signer interface {
	Algorithm() string
	Public() crypto.PublicKey
	// Sign signs a 32 byte SHA-256 digest.
	Sign(digest []byte) ([]byte, error)
}

// ECDSASigner signs with ECDSA P-256 and produces ASN.1 DER signatures.
type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

func NewECDSASigner(key *ecdsa.PrivateKey) (*ECDSASigner, error) {
	if key == nil {
		return nil, ErrNoPrivateKey
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: ECDSA curve %s, expected P-256", ErrInvalidKey, key.Curve.Params().Name)
	}
	return &ECDSASigner{key: key}, nil
}

func (s *ECDSASigner) Algorithm() string { return AlgECDSAP256 }

func (s *ECDSASigner) Public() crypto.PublicKey { return &s.key.PublicKey }

func (s *ECDSASigner) Sign(digest []byte) ([]byte, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return sig, nil
}

// Ed25519Signer signs the digest bytes with Ed25519.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

func NewEd25519Signer(key ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrNoPrivateKey
	}
	return &Ed25519Signer{key: key}, nil
}

func (s *Ed25519Signer) Algorithm() string { return AlgEd25519 }

func (s *Ed25519Signer) Public() crypto.PublicKey { return s.key.Public() }

func (s *Ed25519Signer) Sign(digest []byte) ([]byte, error) {
	return ed25519.Sign(s.key, digest), nil
}

// VerifySignature checks sig over digest for the named algorithm.
func VerifySignature(alg string, pub crypto.PublicKey, digest, sig []byte) bool {
	switch alg {
	case AlgECDSAP256:
		k, ok := pub.(*ecdsa.PublicKey)
		return ok && ecdsa.VerifyASN1(k, digest, sig)
	case AlgEd25519:
		k, ok := pub.(ed25519.PublicKey)
		return ok && len(k) == ed25519.PublicKeySize && ed25519.Verify(k, digest, sig)
	}
	return false
}

// GenerateKey creates a fresh signer for alg.
func GenerateKey(alg string) (Signer, error) {
	switch alg {
	case AlgECDSAP256, "":
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		return NewECDSASigner(k)
	case AlgEd25519:
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return NewEd25519Signer(k)
	}
	return nil, fmt.Errorf("%w: algorithm %q", ErrInvalidKey, alg)
}

// NewSigner wraps a parsed private key.
func NewSigner(key crypto.PrivateKey) (Signer, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return NewECDSASigner(k)
	case ed25519.PrivateKey:
		return NewEd25519Signer(k)
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidKey, key)
}

func privateKey(s Signer) (crypto.PrivateKey, error) {
	switch k := s.(type) {
	case *ECDSASigner:
		return k.key, nil
	case *Ed25519Signer:
		return k.key, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidKey, s)
}

// MarshalPrivateKeyPEM encodes the signer key as a PKCS#8 "PRIVATE KEY" block.
func MarshalPrivateKeyPEM(s Signer) ([]byte, error) {
	key, err := privateKey(s)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// LoadPrivateKeyPEM parses a PKCS#8 or SEC 1 private key.
func LoadPrivateKeyPEM(data []byte) (Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse EC key: %w", err)
		}
		return NewECDSASigner(k)
	default:
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return NewSigner(k)
	}
}

// MarshalPublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" block.
func MarshalPublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// LoadPublicKeyPEM parses a PKIX public key.
func LoadPublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	switch pub.(type) {
	case *ecdsa.PublicKey, ed25519.PublicKey:
		return pub, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidKey, pub)
}

// LoadOrCreateSigner reads the private key at path, generating and saving
// a new alg key (mode 0600) when the file does not exist.
func LoadOrCreateSigner(path, alg string) (Signer, bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		s, err := LoadPrivateKeyPEM(data)
		return s, false, err
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("read signing key %s: %w", path, err)
	}

	s, err := GenerateKey(alg)
	if err != nil {
		return nil, false, err
	}
	pemBytes, err := MarshalPrivateKeyPEM(s)
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, false, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return nil, false, fmt.Errorf("write signing key %s: %w", path, err)
	}
	return s, true, nil
}
