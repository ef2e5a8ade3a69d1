// Package events defines the push-event envelope exchanged between the
// attendance store and dashboard observers, plus the NATS publisher and
// subscriber used to move it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Subjects published on the event bus. Subscribers typically use the
// wildcard "rollcall.>".
const (
	TopicCredentialRedeemed = "rollcall.credential.redeemed"
	TopicIssuerLifecycle    = "rollcall.issuer.lifecycle"
	TopicSystemAlert        = "rollcall.system.alert"

	TopicWildcard = "rollcall.>"
)

// Envelope type discriminators. Unknown types must be ignored by consumers,
// never treated as an error.
const (
	TypeCredentialRedeemed = "credential-redeemed"
	TypeIssuerLifecycle    = "issuer-lifecycle"
	TypeSystemAlert        = "system-alert"
)

// Envelope is the wire form of every push event: a closed, tagged variant.
// Payload stays raw so the transport never interprets business data.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a typed payload for publishing.
func NewEnvelope(eventType string, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling event payload: %w", err)
	}
	return Envelope{Type: eventType, Payload: raw, Timestamp: now}, nil
}

// TopicFor maps an envelope type to its publish subject. Returns false for
// types this service does not emit.
func TopicFor(eventType string) (string, bool) {
	switch eventType {
	case TypeCredentialRedeemed:
		return TopicCredentialRedeemed, true
	case TypeIssuerLifecycle:
		return TopicIssuerLifecycle, true
	case TypeSystemAlert:
		return TopicSystemAlert, true
	}
	return "", false
}

// CredentialRedeemed describes a successful redemption recorded by the store.
type CredentialRedeemed struct {
	CredentialID   string    `json:"credential_id"`
	Holder         string    `json:"holder"`
	DistanceMeters float64   `json:"distance_meters"`
	RecordedAt     time.Time `json:"recorded_at"`
	BoundaryTag    string    `json:"boundary_tag,omitempty"`
}

// IssuerLifecycle describes issuer state changes: started, rotated, stopped.
type IssuerLifecycle struct {
	Action       string `json:"action"`
	CredentialID string `json:"credential_id,omitempty"`
	BoundaryTag  string `json:"boundary_tag,omitempty"`
	Station      string `json:"station,omitempty"`
}

// Lifecycle actions.
const (
	LifecycleStarted = "started"
	LifecycleRotated = "rotated"
	LifecycleStopped = "stopped"
)

// SystemAlert carries operational alerts pushed to dashboards.
type SystemAlert struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
