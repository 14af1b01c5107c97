package signature

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
)

// Hash identifica el prehash usado antes de ECDSA.
type Hash string

const (
	HashSHA256 Hash = "sha256"
	// HashSHA1 sólo para clientes legacy que firman con SHA1withECDSA.
	HashSHA1 Hash = "sha1"
)

// ParseHash normaliza el nombre del hash. "" equivale a sha256.
func ParseHash(s string) (Hash, error) {
	switch Hash(strings.ToLower(strings.TrimSpace(s))) {
	case "", HashSHA256:
		return HashSHA256, nil
	case HashSHA1:
		return HashSHA1, nil
	default:
		return "", fmt.Errorf("signature: unsupported hash %q", s)
	}
}

func (h Hash) digest(b []byte) []byte {
	if h == HashSHA1 {
		d := sha1.Sum(b)
		return d[:]
	}
	d := sha256.Sum256(b)
	return d[:]
}

// Keyring guarda las claves privadas EC del dispositivo indexadas por signingKeyID.
// Implementa Signer.
type Keyring struct {
	hash Hash

	mu   sync.RWMutex
	keys map[string]*ecdsa.PrivateKey
}

// NewKeyring crea un keyring vacío.
func NewKeyring(hash Hash) *Keyring {
	if hash == "" {
		hash = HashSHA256
	}
	return &Keyring{hash: hash, keys: make(map[string]*ecdsa.PrivateKey)}
}

// Add registra una clave privada.
func (k *Keyring) Add(signingKeyID string, priv *ecdsa.PrivateKey) {
	k.mu.Lock()
	k.keys[signingKeyID] = priv
	k.mu.Unlock()
}

// AddPEM registra una clave privada PEM ("EC PRIVATE KEY" o PKCS#8).
func (k *Keyring) AddPEM(signingKeyID string, pemBytes []byte) error {
	priv, err := ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return err
	}
	k.Add(signingKeyID, priv)
	return nil
}

// PublicKeyPEM devuelve la mitad pública de signingKeyID en PEM.
func (k *Keyring) PublicKeyPEM(signingKeyID string) (string, error) {
	k.mu.RLock()
	priv, ok := k.keys[signingKeyID]
	k.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSigningKey, signingKeyID)
	}
	return EncodePublicKeyPEM(&priv.PublicKey)
}

// Sign implementa Signer.
func (k *Keyring) Sign(ctx context.Context, data Payload, signingKeyID, signerID string, lastModified int64) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if signingKeyID == "" || signerID == "" || lastModified == 0 {
		return nil, fmt.Errorf("%w: signingKeyID, signerID and lastModified are required", ErrInvalidArgument)
	}
	k.mu.RLock()
	priv, ok := k.keys[signingKeyID]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigningKey, signingKeyID)
	}

	out := data.Clone()
	if out == nil {
		out = Payload{}
	}
	delete(out, FieldSig)
	out[FieldLastModified] = lastModified
	out[FieldSignerID] = signerID
	out[FieldSigningKeyID] = signingKeyID

	stream, err := Encode(out)
	if err != nil {
		return nil, err
	}
	sig, err := ecdsa.SignASN1(rand.Reader, priv, k.hash.digest(stream))
	if err != nil {
		return nil, fmt.Errorf("signature: sign: %w", err)
	}
	out[FieldSig] = base64.StdEncoding.EncodeToString(sig)
	return out, nil
}

// ECDSAVerifier implementa Verifier con claves públicas EC en PEM.
type ECDSAVerifier struct {
	hash Hash
}

// NewVerifier crea un verificador con el hash dado.
func NewVerifier(hash Hash) *ECDSAVerifier {
	if hash == "" {
		hash = HashSHA256
	}
	return &ECDSAVerifier{hash: hash}
}

// Verify implementa Verifier.
func (v *ECDSAVerifier) Verify(ctx context.Context, signed Payload, signerPublicKeyPEM, signerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(signed) == 0 || signerPublicKeyPEM == "" || signerID == "" {
		return fmt.Errorf("%w: payload, public key and signer are required", ErrInvalidArgument)
	}
	if claimed := signed.String(FieldSignerID); claimed != "" && claimed != signerID {
		return fmt.Errorf("%w: signer mismatch", ErrInvalidSignature)
	}
	pub, err := ParsePublicKeyPEM(signerPublicKeyPEM)
	if err != nil {
		return err
	}

	data := signed.Clone()
	sigText, _ := data[FieldSig].(string)
	delete(data, FieldSig)
	sig, err := decodeSig(sigText)
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("%w: undecodable sig", ErrInvalidSignature)
	}

	stream, err := Encode(data)
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(pub, v.hash.digest(stream), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// decodeSig acepta base64 con saltos de línea (Base64.DEFAULT en Android).
func decodeSig(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(s)
}

// ParsePublicKeyPEM parsea una clave pública EC ("PUBLIC KEY", PKIX).
func ParsePublicKeyPEM(s string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(s)))
	if block == nil {
		return nil, fmt.Errorf("%w: public key is not PEM", ErrInvalidArgument)
	}
	pk, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signature: parse public key: %w", err)
	}
	pub, ok := pk.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, want EC", ErrInvalidArgument, pk)
	}
	return pub, nil
}

// ParsePrivateKeyPEM parsea una clave privada EC (SEC1 o PKCS#8).
func ParsePrivateKeyPEM(b []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("%w: private key is not PEM", ErrInvalidArgument)
	}
	if block.Type == "EC PRIVATE KEY" {
		priv, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signature: parse EC private key: %w", err)
		}
		return priv, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signature: parse PKCS8 private key: %w", err)
	}
	priv, ok := k.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, want EC", ErrInvalidArgument, k)
	}
	return priv, nil
}

// EncodePublicKeyPEM codifica la clave pública en PEM PKIX.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("signature: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// GeneratePrivateKeyPEM crea una clave P-256 nueva en PEM "EC PRIVATE KEY".
func GeneratePrivateKeyPEM() ([]byte, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signature: generate key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("signature: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
