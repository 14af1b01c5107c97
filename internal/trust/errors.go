package trust

import "errors"

// ErrInvalidField es el kind de todos los errores de construcción.
var ErrInvalidField = errors.New("trust: invalid field")

// Nombres de campo reportados por FieldError.
const (
	FieldOrganization = "organization"
	FieldOwner        = "owner"
	FieldKeyMaterial  = "key material"
	FieldSignature    = "signature"
	FieldSigner       = "signer"
	FieldTimestamp    = "timestamp"
)

// FieldError indica un campo requerido ausente al construir Key o KeySignature.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string { return "trust: invalid " + e.Field }

// Is permite errors.Is(err, ErrInvalidField).
func (e *FieldError) Is(target error) bool { return target == ErrInvalidField }

func invalid(field string) error { return &FieldError{Field: field} }

// IsInvalidField verifica si el error es de construcción.
func IsInvalidField(err error) bool {
	return errors.Is(err, ErrInvalidField)
}

// InvalidFieldName devuelve el campo inválido, o "" si err no es un FieldError.
func InvalidFieldName(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}
