package types

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnvelopeID represents a unique envelope identifier (UUIDv4, producer-assigned)
type EnvelopeID string

// AgentID represents a destination agent identifier
type AgentID string

// Priority defines envelope urgency tiers. Lower values are served first.
type Priority int

const (
	PriorityHighest Priority = 1
	PriorityDefault Priority = 5
	PriorityLowest  Priority = 10
)

// Valid reports whether the priority falls inside the supported tier range.
func (p Priority) Valid() bool {
	return p >= PriorityHighest && p <= PriorityLowest
}

// DefaultMaxPayloadBytes is the payload size ceiling applied when no limit is configured.
const DefaultMaxPayloadBytes = 1 << 20 // 1 MiB

// DefaultMaxRetries is the per-envelope retry budget applied when unset.
const DefaultMaxRetries = 3

// Envelope is the unit of message data moving through the subsystem.
// The JSON field names are the wire format; Canonical() derives the
// deterministic byte form used for signing.
type Envelope struct {
	ID          EnvelopeID      `json:"id"`
	Destination AgentID         `json:"destination"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    Priority        `json:"priority"`
	CreatedAt   int64           `json:"created_at"` // Unix seconds
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Sender      string          `json:"sender,omitempty"`
	Signature   string          `json:"signature,omitempty"`
	Encrypted   bool            `json:"encrypted,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// NewEnvelope creates an envelope with defaults applied.
func NewEnvelope(destination AgentID, msgType string, payload []byte) *Envelope {
	return &Envelope{
		ID:          EnvelopeID(uuid.NewString()),
		Destination: destination,
		Type:        msgType,
		Payload:     json.RawMessage(payload),
		Priority:    PriorityDefault,
		CreatedAt:   time.Now().Unix(),
		RetryCount:  0,
		MaxRetries:  DefaultMaxRetries,
	}
}

// WithPriority sets the priority tier.
func (e *Envelope) WithPriority(p Priority) *Envelope {
	e.Priority = p
	return e
}

// WithSender sets the producing sender identity used for admission control.
func (e *Envelope) WithSender(sender string) *Envelope {
	e.Sender = sender
	return e
}

// WithMaxRetries overrides the retry budget.
func (e *Envelope) WithMaxRetries(n int) *Envelope {
	e.MaxRetries = n
	return e
}

// Age returns how long ago the envelope was stamped.
func (e *Envelope) Age() time.Duration {
	return time.Since(time.Unix(e.CreatedAt, 0))
}

// RetriesExhausted reports whether the envelope has consumed its retry budget.
func (e *Envelope) RetriesExhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// Clone returns a deep copy. Broadcast routing clones per destination.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make(json.RawMessage, len(e.Payload))
		copy(cp.Payload, e.Payload)
	}
	return &cp
}

// Canonical produces the deterministic serialization used for signing.
// Field order is fixed by sorted key names and the signature field is
// excluded. Every value is length-prefixed, so the encoding is injective:
// two distinct envelopes can never share canonical bytes even when a value
// contains the separator characters.
func (e *Envelope) Canonical() []byte {
	fields := map[string]string{
		"created_at":  strconv.FormatInt(e.CreatedAt, 10),
		"destination": string(e.Destination),
		"encrypted":   strconv.FormatBool(e.Encrypted),
		"id":          string(e.ID),
		"max_retries": strconv.Itoa(e.MaxRetries),
		"payload":     string(e.Payload),
		"priority":    strconv.Itoa(int(e.Priority)),
		"retry_count": strconv.Itoa(e.RetryCount),
		"sender":      e.Sender,
		"type":        e.Type,
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		v := fields[k]
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.WriteString(v)
	}
	return []byte(b.String())
}

// Validate checks required fields and the payload size bound.
// maxPayloadBytes <= 0 applies DefaultMaxPayloadBytes.
func (e *Envelope) Validate(maxPayloadBytes int) error {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}
	if e.ID == "" {
		return ErrValidation("envelope id is required")
	}
	if e.Destination == "" {
		return ErrValidation("envelope destination is required")
	}
	if e.Type == "" {
		return ErrValidation("envelope type is required")
	}
	if !e.Priority.Valid() {
		return ErrValidation("priority must be between 1 and 10").
			WithDetail("priority", int(e.Priority))
	}
	if len(e.Payload) > maxPayloadBytes {
		return ErrPayloadTooLarge(len(e.Payload), maxPayloadBytes)
	}
	return nil
}
