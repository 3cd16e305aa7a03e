package types

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewEnvelopeDefaults(t *testing.T) {
	env := NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))

	if env.ID == "" {
		t.Error("expected generated id")
	}
	if env.Priority != PriorityDefault {
		t.Errorf("expected priority %d, got %d", PriorityDefault, env.Priority)
	}
	if env.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected max retries %d, got %d", DefaultMaxRetries, env.MaxRetries)
	}
	if env.RetryCount != 0 {
		t.Errorf("expected zero retry count, got %d", env.RetryCount)
	}
	if env.CreatedAt == 0 {
		t.Error("expected created_at stamp")
	}
}

func TestEnvelopeBuilders(t *testing.T) {
	env := NewEnvelope("agent-1", "task.created", nil).
		WithPriority(PriorityHighest).
		WithSender("svc-a").
		WithMaxRetries(7)

	if env.Priority != PriorityHighest {
		t.Errorf("expected priority %d, got %d", PriorityHighest, env.Priority)
	}
	if env.Sender != "svc-a" {
		t.Errorf("expected sender svc-a, got %s", env.Sender)
	}
	if env.MaxRetries != 7 {
		t.Errorf("expected max retries 7, got %d", env.MaxRetries)
	}
}

func TestPriorityValid(t *testing.T) {
	for p := PriorityHighest; p <= PriorityLowest; p++ {
		if !p.Valid() {
			t.Errorf("priority %d should be valid", p)
		}
	}
	for _, p := range []Priority{0, -1, 11, 100} {
		if p.Valid() {
			t.Errorf("priority %d should be invalid", p)
		}
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	env := NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`)).WithSender("svc-a")

	first := env.Canonical()
	for i := 0; i < 50; i++ {
		if !bytes.Equal(first, env.Canonical()) {
			t.Fatal("canonical form is not deterministic")
		}
	}
}

func TestCanonicalExcludesSignature(t *testing.T) {
	env := NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))
	before := env.Canonical()

	env.Signature = "deadbeef"
	after := env.Canonical()

	if !bytes.Equal(before, after) {
		t.Error("signature must not affect the canonical form")
	}
	if strings.Contains(string(after), "deadbeef") {
		t.Error("canonical form must not contain the signature value")
	}
}

func TestCanonicalSensitiveToFields(t *testing.T) {
	env := NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))
	base := string(env.Canonical())

	mutations := []func(*Envelope){
		func(e *Envelope) { e.Destination = "agent-2" },
		func(e *Envelope) { e.Type = "task.updated" },
		func(e *Envelope) { e.Payload = []byte(`{"x":2}`) },
		func(e *Envelope) { e.Priority = PriorityHighest },
		func(e *Envelope) { e.RetryCount = 1 },
		func(e *Envelope) { e.CreatedAt++ },
	}
	for i, mutate := range mutations {
		cp := env.Clone()
		mutate(cp)
		if string(cp.Canonical()) == base {
			t.Errorf("mutation %d did not change the canonical form", i)
		}
	}
}

func TestCanonicalBindsFieldBoundaries(t *testing.T) {
	// Separator characters inside one value must not read as the next
	// field. Both envelopes would flatten to the same key=value stream
	// without length prefixes.
	a := NewEnvelope("agent-1", "x", []byte(`{}`)).WithSender("alice|type=evil.cmd")
	b := NewEnvelope("agent-1", "evil.cmd|type=x", []byte(`{}`)).WithSender("alice")
	b.ID, b.CreatedAt = a.ID, a.CreatedAt

	if bytes.Equal(a.Canonical(), b.Canonical()) {
		t.Error("envelopes with shifted field boundaries share a canonical form")
	}
}

func TestClone(t *testing.T) {
	env := NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))
	cp := env.Clone()

	cp.Payload[0] = '!'
	if env.Payload[0] == '!' {
		t.Error("clone must not share payload backing array")
	}
}

func TestRetriesExhausted(t *testing.T) {
	env := NewEnvelope("agent-1", "task.created", nil).WithMaxRetries(2)

	if env.RetriesExhausted() {
		t.Error("fresh envelope should not be exhausted")
	}
	env.RetryCount = 2
	if !env.RetriesExhausted() {
		t.Error("retry_count == max_retries should be exhausted")
	}
}

func TestEnvelopeAge(t *testing.T) {
	env := NewEnvelope("agent-1", "task.created", nil)
	env.CreatedAt = time.Now().Add(-time.Hour).Unix()

	age := env.Age()
	if age < 59*time.Minute || age > 61*time.Minute {
		t.Errorf("expected age near 1h, got %v", age)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Envelope {
		return NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))
	}

	t.Run("valid envelope", func(t *testing.T) {
		if err := valid().Validate(0); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		env := valid()
		env.ID = ""
		assertCode(t, env.Validate(0), ErrCodeValidation)
	})

	t.Run("missing destination", func(t *testing.T) {
		env := valid()
		env.Destination = ""
		assertCode(t, env.Validate(0), ErrCodeValidation)
	})

	t.Run("missing type", func(t *testing.T) {
		env := valid()
		env.Type = ""
		assertCode(t, env.Validate(0), ErrCodeValidation)
	})

	t.Run("priority out of range", func(t *testing.T) {
		env := valid()
		env.Priority = 11
		assertCode(t, env.Validate(0), ErrCodeValidation)
	})

	t.Run("payload too large", func(t *testing.T) {
		env := valid()
		env.Payload = bytes.Repeat([]byte("a"), 101)
		err := env.Validate(100)
		assertCode(t, err, ErrCodeValidation)

		ce := AsCourierError(err)
		if ce.Details["size"] != 101 || ce.Details["max_size"] != 100 {
			t.Errorf("expected size details, got %v", ce.Details)
		}
	})

	t.Run("payload at limit passes", func(t *testing.T) {
		env := valid()
		env.Payload = bytes.Repeat([]byte("a"), 100)
		if err := env.Validate(100); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func assertCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	ce, ok := err.(*CourierError)
	if !ok {
		t.Fatalf("expected *CourierError, got %T", err)
	}
	if ce.Code != code {
		t.Errorf("expected code %s, got %s", code, ce.Code)
	}
}
