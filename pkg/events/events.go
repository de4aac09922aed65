// Package events publishes and consumes domain events over Kafka. Every
// state change in the platform (lead created, application moved, shift
// booked) is emitted as a JSON envelope so downstream consumers such as the
// notifier can react without coupling to the API service.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event types emitted by the API service.
const (
	TypeLeadCreated        = "lead.created"
	TypeLeadTransitioned   = "lead.transitioned"
	TypeLeadAssigned       = "lead.assigned"
	TypeApplicationMoved   = "application.moved"
	TypeShiftBooked        = "shift.booked"
	TypeShiftTransitioned  = "shift.transitioned"
	TypeContractActivated  = "contract.activated"
	TypeExperimentComplete = "experiment.completed"
)

// Envelope is the wire format for every domain event.
type Envelope struct {
	Type   string          `json:"type"`
	Tenant string          `json:"tenant"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

type Message struct {
	Key   []byte
	Value []byte
}

// Publisher emits domain events. Implementations must tolerate being nil so
// services can run with the bus disabled.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Consumer pulls domain events one at a time.
type Consumer interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}

// NewEnvelope marshals data into a ready-to-publish envelope.
func NewEnvelope(eventType, tenant string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Tenant: tenant, At: time.Now().UTC(), Data: raw}, nil
}
