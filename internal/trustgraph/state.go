package trustgraph

import "fmt"

// State es la etapa de resolución de un nodo.
type State uint8

const (
	StateFetch State = iota
	StateValidate
	StateCompare
	StateValidateLink
	StateConnect
	StateSuccess
	StateValidateFail
	StateRetryFail
)

var stateNames = [...]string{
	StateFetch:        "fetch",
	StateValidate:     "validate",
	StateCompare:      "compare",
	StateValidateLink: "validate_link",
	StateConnect:      "connect",
	StateSuccess:      "success",
	StateValidateFail: "validate_fail",
	StateRetryFail:    "retry_fail",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implementa encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reporta SUCCESS, VALIDATE_FAIL o RETRY_FAIL.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s.Failed()
}

// Failed reporta los dos estados terminales de falla.
func (s State) Failed() bool {
	return s == StateValidateFail || s == StateRetryFail
}

// InGraph reporta si el nodo ya pasó la validación propia y puede tener aristas.
func (s State) InGraph() bool {
	return s == StateValidateLink || s == StateConnect || s == StateSuccess
}
