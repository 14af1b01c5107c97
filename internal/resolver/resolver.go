// Package resolver orquesta sesiones de resolución de confianza: descarga
// claves del keystore, las lleva por la máquina de estados de trustgraph
// verificando firmas y responde si existe un camino de confianza entre dos
// claves.
//
// Las descargas corren en paralelo (acotadas por Options.Prefetch); todas las
// transiciones y ediciones del grafo ocurren en la goroutine que llama a
// Resolve/Path.
package resolver

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/keytrust/internal/signature"
	"github.com/dropDatabas3/keytrust/internal/trust"
	"github.com/dropDatabas3/keytrust/internal/trustgraph"
)

var (
	// ErrNotTrusted indica que no hay camino de confianza con los datos disponibles.
	ErrNotTrusted = errors.New("resolver: not trusted")

	// ErrUnknown indica que la búsqueda quedó incompleta (profundidad o
	// descargas pendientes) y no se puede afirmar ni negar la confianza.
	ErrUnknown = errors.New("resolver: trust unknown")
)

// Options configura un Resolver.
type Options struct {
	// MaxRetries reintentos de descarga por clave. Default 3.
	MaxRetries int

	// RetryBackoff espera base entre rondas de reintento. Default 200ms.
	RetryBackoff time.Duration

	// MaxDepth saltos máximos desde las claves consultadas. Default 4.
	MaxDepth int

	// Prefetch descargas concurrentes por ronda. Default 4.
	Prefetch int

	// FetchTimeout tope de una descarga compartida entre llamadores. Default 10s.
	FetchTimeout time.Duration

	// Now reloj para chequear expiración. Default time.Now.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = trustgraph.DefaultRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 4
	}
	if o.Prefetch <= 0 {
		o.Prefetch = 4
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Resolver crea sesiones sobre un keystore y un verificador compartidos.
// Es seguro para uso concurrente; cada Session no lo es.
type Resolver struct {
	fetcher  trust.Fetcher
	verifier signature.Verifier
	opts     Options

	// sf colapsa descargas simultáneas de la misma clave entre sesiones
	sf singleflight.Group
}

// New crea un Resolver. MaxRetries negativo desactiva los reintentos.
func New(f trust.Fetcher, v signature.Verifier, opts Options) *Resolver {
	opts.defaults()
	return &Resolver{fetcher: f, verifier: v, opts: opts}
}

// Options devuelve la configuración efectiva.
func (r *Resolver) Options() Options { return r.opts }

// Check resuelve en una sesión nueva si from confía en to usando pivot.
func (r *Resolver) Check(ctx context.Context, orgID, pivotID, fromID, toID string) (Verdict, error) {
	return r.NewSession(ctx, orgID).Path(ctx, pivotID, fromID, toID)
}

func (r *Resolver) fetch(ctx context.Context, orgID, keyID string) (*trust.Record, error) {
	// la descarga es compartida: no hereda la cancelación de quien la inició
	ch := r.sf.DoChan(orgID+"/"+keyID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FetchTimeout)
		defer cancel()
		return r.fetcher.Fetch(fctx, orgID, keyID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	v := res.Val
	rec, _ := v.(*trust.Record)
	if rec == nil {
		return nil, errors.New("resolver: empty record")
	}
	return rec.Clone(), nil
}
