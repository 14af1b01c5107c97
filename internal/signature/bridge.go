package signature

import (
	"context"
	"errors"
)

var (
	// ErrInvalidSignature indica que la firma no corresponde al payload/clave.
	ErrInvalidSignature = errors.New("signature: invalid signature")

	// ErrUnknownSigningKey indica que el keyring no tiene la clave privada pedida.
	ErrUnknownSigningKey = errors.New("signature: unknown signing key")

	// ErrInvalidArgument indica parámetros vacíos en sign/verify.
	ErrInvalidArgument = errors.New("signature: invalid argument")
)

// Signer firma un payload con la clave privada local identificada por signingKeyID.
// Devuelve una copia del payload con lastModified, signerID, signingKeyID y sig.
type Signer interface {
	Sign(ctx context.Context, data Payload, signingKeyID, signerID string, lastModified int64) (Payload, error)
}

// Verifier verifica un payload previamente firmado contra la clave pública PEM
// del firmante. nil significa firma válida; cualquier error debe tratarse como
// "no verificado" sin interpretarlo.
type Verifier interface {
	Verify(ctx context.Context, signed Payload, signerPublicKeyPEM, signerID string) error
}

// IsInvalid verifica si el error es por firma inválida.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}
