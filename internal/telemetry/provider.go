package telemetry

import (
	"errors"
	"fmt"
)

// Producer is the interface shared by every telemetry source. The live MQTT
// channel and the mock generator both implement it, so the ingestion core can
// swap one for the other without the consumer noticing.
type Producer interface {
	// Name returns the human-readable name of this producer.
	Name() string
	// Start activates the producer. Events are reported through the Sink the
	// producer was built with.
	Start() error
	// Stop tears the producer down. It is safe to call more than once.
	Stop() error
}

// Sink receives producer events. Each producer is handed a sink bound to its
// generation, so events arriving after a mode switch are discarded by the
// receiver rather than by the producer.
type Sink interface {
	Telemetry(msg Message)
	Status(st Status)
	// Drop reports a message or event that was discarded (malformed payload,
	// lost connection). It never changes state.
	Drop(err error)
}

// Message is one decoded sensor payload. Position fields are optional and are
// never merged into the reading by the core; position comes from the gps
// package only.
type Message struct {
	Latitude      *float64
	Longitude     *float64
	Distance      float64 // cm
	Concentration float64 // ppm
}

var (
	ErrConnectFailed      = errors.New("telemetry: connect failed")
	ErrSubscriptionFailed = errors.New("telemetry: subscription failed")
	ErrMalformedPayload   = errors.New("telemetry: malformed payload")
	ErrUnexpectedClose    = errors.New("telemetry: connection closed unexpectedly")
)

// Status is the connection state shown to the user. Exactly one value holds at
// any time.
type Status int

const (
	Connecting Status = iota
	Connected
	Disconnected
	ConnectionError
	SubscriptionFailed
	Mocked
)

var statusNames = [...]string{
	Connecting:         "connecting",
	Connected:          "connected",
	Disconnected:       "disconnected",
	ConnectionError:    "connection_error",
	SubscriptionFailed: "subscription_failed",
	Mocked:             "mocked",
}

// Labels as shown on the dashboard badge.
var statusLabels = [...]string{
	Connecting:         "Conectando...",
	Connected:          "Conectado",
	Disconnected:       "Desconectado",
	ConnectionError:    "Erro de Conexão",
	SubscriptionFailed: "Falha na Inscrição",
	Mocked:             "Mockado",
}

func (s Status) valid() bool { return s >= Connecting && s <= Mocked }

func (s Status) String() string {
	if !s.valid() {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Label returns the localized badge text.
func (s Status) Label() string {
	if !s.valid() {
		return s.String()
	}
	return statusLabels[s]
}

// Display classes for the status badge.
const (
	ClassOK     = "ok"
	ClassMocked = "mocked"
	ClassFault  = "fault"
)

// Class maps a status onto one of three badge colours. Connecting and
// Connected share a bucket, so a reconnecting channel looks the same as a
// healthy one.
func (s Status) Class() string {
	switch s {
	case Connected, Connecting:
		return ClassOK
	case Mocked:
		return ClassMocked
	default:
		return ClassFault
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("telemetry: invalid status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("telemetry: unknown status %q", b)
}
