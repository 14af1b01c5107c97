// Package keystore persiste registros de claves con el layout
// /orgs/{orgID}/keys/{keyID} y provee el registry de adapters
// (memory, fs, postgres, couchdb) más un wrapper con cache.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dropDatabas3/keytrust/internal/trust"
)

// Errores comunes del store.
var (
	// ErrNotFound indica que la clave no existe.
	ErrNotFound = errors.New("keystore: key not found")

	// ErrRejected indica que el store rechazó una escritura (formato inválido,
	// campo ya seteado, clave inexistente). Es una falla normal, no un bug.
	ErrRejected = errors.New("keystore: write rejected")

	// ErrClosed indica uso de una conexión ya cerrada.
	ErrClosed = errors.New("keystore: closed")

	// ErrUnknownDriver indica un driver sin adapter registrado.
	ErrUnknownDriver = errors.New("keystore: unknown driver")
)

// IsNotFound helper para verificar si el error es por clave inexistente.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRejected helper para verificar si el store rechazó la escritura.
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }

// Reader lee registros. Implementa trust.Fetcher.
type Reader interface {
	Fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error)
}

// Writer escribe los tres fragmentos que produce el modelo de confianza.
type Writer interface {
	// PutKey crea el registro. publicKey y ownerID se setean una sola vez:
	// reescribir una clave existente sólo puede cambiar la expiración.
	PutKey(ctx context.Context, orgID, keyID string, rec *trust.Record) error

	// PutSignature escribe {keyID}/signatures/{signingKeyID}.
	PutSignature(ctx context.Context, orgID, keyID, signingKeyID string, sig trust.SignatureEntry) error

	// PutTrust reemplaza el bloque de confianza completo.
	PutTrust(ctx context.Context, orgID, keyID string, block trust.TrustBlock) error
}

// Store es una conexión activa a un backend.
type Store interface {
	Reader
	Writer

	// Name retorna el nombre del adapter.
	Name() string

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para conectar a un backend.
type Config struct {
	// Driver: "memory", "fs", "postgres", "couchdb"
	Driver string

	// FSRoot directorio raíz (fs)
	FSRoot string

	// DSN connection string (postgres) o URL (couchdb)
	DSN string

	// Database nombre de la base (couchdb)
	Database string

	// MaxConns tamaño del pool (postgres)
	MaxConns int
}

// Adapter crea conexiones a un backend.
type Adapter interface {
	Name() string
	Connect(ctx context.Context, cfg Config) (Store, error)
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// Register registra un adapter. Llamar en init() de cada adapter.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("keystore: adapter %q already registered", name))
	}
	adapters[name] = a
}

// Drivers retorna los nombres de los adapters registrados, ordenados.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open abre una conexión con el adapter cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	registryMu.RLock()
	a, ok := adapters[cfg.Driver]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownDriver, cfg.Driver, Drivers())
	}
	return a.Connect(ctx, cfg)
}

// ─── Validación compartida por los adapters ───

var validate = validator.New()

// ValidateRecord aplica las reglas de formato de un registro nuevo.
func ValidateRecord(orgID, keyID string, rec *trust.Record) error {
	if err := validateIDs(orgID, keyID); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrRejected)
	}
	if err := validate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrRejected, orgID, keyID, err)
	}
	return nil
}

// ValidateSignature aplica las reglas de formato de una firma.
func ValidateSignature(orgID, keyID, signingKeyID string, sig trust.SignatureEntry) error {
	if err := validateIDs(orgID, keyID); err != nil {
		return err
	}
	if signingKeyID == "" {
		return fmt.Errorf("%w: empty signing key id", ErrRejected)
	}
	if err := validate.Struct(sig); err != nil {
		return fmt.Errorf("%w: %s/signatures/%s: %v", ErrRejected, keyID, signingKeyID, err)
	}
	return nil
}

// ValidateTrust aplica las reglas de formato de un bloque de confianza.
// El bloque debe venir firmado.
func ValidateTrust(orgID, keyID string, block trust.TrustBlock) error {
	if err := validateIDs(orgID, keyID); err != nil {
		return err
	}
	if block.Sig == "" || block.LastModified <= 0 {
		return fmt.Errorf("%w: %s/trust: unsigned block", ErrRejected, keyID)
	}
	if err := validate.Struct(block); err != nil {
		return fmt.Errorf("%w: %s/trust: %v", ErrRejected, keyID, err)
	}
	return nil
}

// CheckImmutable verifica que una reescritura no cambie publicKey ni ownerID.
func CheckImmutable(current, next *trust.Record) error {
	if current.PublicKey != next.PublicKey || current.OwnerID != next.OwnerID {
		return fmt.Errorf("%w: publicKey and ownerID are write-once", ErrRejected)
	}
	return nil
}

// CheckChains verifica que todas las claves referenciadas en las cadenas
// existan en el store.
func CheckChains(ctx context.Context, r Reader, orgID string, block trust.TrustBlock) error {
	seen := make(map[string]struct{})
	for _, e := range block.Entities {
		for _, id := range e.Chain {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if _, err := r.Fetch(ctx, orgID, id); err != nil {
				if IsNotFound(err) {
					return fmt.Errorf("%w: chain references unknown key %s", ErrRejected, id)
				}
				return err
			}
		}
	}
	return nil
}

func validateIDs(orgID, keyID string) error {
	if orgID == "" || keyID == "" {
		return fmt.Errorf("%w: empty org or key id", ErrRejected)
	}
	return nil
}
