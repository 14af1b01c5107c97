package resolver

import "github.com/dropDatabas3/keytrust/internal/trustgraph"

// Outcome es el resultado de una consulta de confianza.
type Outcome string

const (
	OutcomeTrusted    Outcome = "trusted"
	OutcomeNotTrusted Outcome = "not_trusted"
	OutcomeUnknown    Outcome = "unknown"
)

// Verdict es la respuesta de Session.Path.
type Verdict struct {
	Outcome Outcome  `json:"outcome"`
	Path    []string `json:"path,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Err traduce el veredicto a ErrNotTrusted, ErrUnknown o nil.
func (v Verdict) Err() error {
	switch v.Outcome {
	case OutcomeTrusted:
		return nil
	case OutcomeNotTrusted:
		return ErrNotTrusted
	default:
		return ErrUnknown
	}
}

// KeyStatus resume el estado de una clave dentro de una sesión.
type KeyStatus struct {
	KeyID   string            `json:"keyID"`
	State   trustgraph.State  `json:"state"`
	OwnerID string            `json:"ownerID,omitempty"`
	Retries int               `json:"retriesLeft"`
	Mutual  []trustgraph.Edge `json:"mutual,omitempty"`
	Outcome Outcome           `json:"outcome"`
}

func outcomeOf(st trustgraph.State) Outcome {
	switch {
	case st == trustgraph.StateSuccess:
		return OutcomeTrusted
	case st == trustgraph.StateValidateFail:
		return OutcomeNotTrusted
	default:
		return OutcomeUnknown
	}
}
