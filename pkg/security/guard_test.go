package security

import (
	"bytes"
	"testing"
	"time"

	"github.com/meftunca/courier/pkg/types"
)

func newGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	g, err := NewGuard(cfg)
	if err != nil {
		t.Fatalf("guard init failed: %v", err)
	}
	return g
}

func TestNewGuardRequiresHMACSecret(t *testing.T) {
	if _, err := NewGuard(Config{}); err == nil {
		t.Error("expected error without hmac secret")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "test-secret"})
	env := types.NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))

	g.Sign(env)
	if env.Signature == "" {
		t.Fatal("expected signature")
	}

	ok, err := g.Verify(env)
	if !ok || err != nil {
		t.Errorf("expected valid signature, got ok=%t err=%v", ok, err)
	}
	// Verify must restore the signature it temporarily cleared.
	if env.Signature == "" {
		t.Error("verify cleared the signature")
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "test-secret"})
	env := types.NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))

	ok, err := g.Verify(env)
	if ok {
		t.Error("unsigned envelope must fail verification")
	}
	assertAuthError(t, err)
}

func TestVerifyRejectsShiftedFieldBoundaries(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "test-secret"})

	// A sender value embedding the field separator must not verify as a
	// different envelope with the boundary moved into the type field.
	signed := types.NewEnvelope("agent-1", "x", []byte(`{}`)).WithSender("alice|type=evil.cmd")
	g.Sign(signed)

	forged := types.NewEnvelope("agent-1", "evil.cmd|type=x", []byte(`{}`)).WithSender("alice")
	forged.ID, forged.CreatedAt = signed.ID, signed.CreatedAt
	forged.Signature = signed.Signature

	ok, err := g.Verify(forged)
	if ok {
		t.Error("boundary-shifted envelope verified with a reused signature")
	}
	assertAuthError(t, err)
}

func TestVerifyDetectsTampering(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "test-secret"})

	tampers := []func(*types.Envelope){
		func(e *types.Envelope) { e.Payload = []byte(`{"x":2}`) },
		func(e *types.Envelope) { e.Destination = "agent-2" },
		func(e *types.Envelope) { e.Priority = types.PriorityHighest },
		func(e *types.Envelope) { e.RetryCount++ },
		func(e *types.Envelope) { e.Signature = e.Signature[:len(e.Signature)-1] + "x" },
	}
	for i, tamper := range tampers {
		env := types.NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))
		g.Sign(env)
		tamper(env)

		if ok, _ := g.Verify(env); ok {
			t.Errorf("tamper %d went undetected", i)
		}
	}
}

func TestVerifyKeyMismatch(t *testing.T) {
	signer := newGuard(t, Config{HMACSecret: "secret-a"})
	verifier := newGuard(t, Config{HMACSecret: "secret-b"})

	env := types.NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))
	signer.Sign(env)

	if ok, _ := verifier.Verify(env); ok {
		t.Error("different secrets must not verify")
	}
}

func TestIsFresh(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "test-secret"})
	env := types.NewEnvelope("agent-1", "task.created", nil)

	t.Run("fresh", func(t *testing.T) {
		env.CreatedAt = time.Now().Unix()
		if !g.IsFresh(env, 5*time.Minute) {
			t.Error("just-stamped envelope should be fresh")
		}
	})

	t.Run("expired", func(t *testing.T) {
		env.CreatedAt = time.Now().Add(-10 * time.Minute).Unix()
		if g.IsFresh(env, 5*time.Minute) {
			t.Error("ten-minute-old envelope should be stale at 5m max age")
		}
	})

	t.Run("future stamp rejected", func(t *testing.T) {
		env.CreatedAt = time.Now().Add(time.Hour).Unix()
		if g.IsFresh(env, 5*time.Minute) {
			t.Error("future created_at should be rejected")
		}
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "s", EncryptionSecret: "enc-secret"})
	plaintext := []byte(`{"card":"4111111111111111"}`)

	env := types.NewEnvelope("agent-1", "payment", plaintext)
	if _, err := g.Encrypt(env); err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	if !env.Encrypted {
		t.Error("expected encrypted flag")
	}
	if bytes.Contains(env.Payload, []byte("4111111111111111")) {
		t.Error("ciphertext leaks plaintext")
	}

	// double encrypt is a no-op
	sealed := append([]byte(nil), env.Payload...)
	if _, err := g.Encrypt(env); err != nil {
		t.Fatalf("second encrypt failed: %v", err)
	}
	if !bytes.Equal(env.Payload, sealed) {
		t.Error("encrypting twice must not re-seal")
	}

	if _, err := g.Decrypt(env); err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if env.Encrypted {
		t.Error("expected encrypted flag cleared")
	}
	if !bytes.Equal(env.Payload, plaintext) {
		t.Errorf("plaintext mismatch: got %s", env.Payload)
	}
}

func TestDecryptNonEncryptedIsNoop(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "s", EncryptionSecret: "enc-secret"})
	env := types.NewEnvelope("agent-1", "task.created", []byte(`{"x":1}`))

	if _, err := g.Decrypt(env); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if string(env.Payload) != `{"x":1}` {
		t.Error("payload must be untouched")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	sealer := newGuard(t, Config{HMACSecret: "s", EncryptionSecret: "secret-a"})
	opener := newGuard(t, Config{HMACSecret: "s", EncryptionSecret: "secret-b"})

	env := types.NewEnvelope("agent-1", "payment", []byte(`{"x":1}`))
	if _, err := sealer.Encrypt(env); err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	_, err := opener.Decrypt(env)
	assertAuthError(t, err)
}

func TestEncryptWithoutSecret(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "s"})
	env := types.NewEnvelope("agent-1", "payment", []byte(`{"x":1}`))

	if _, err := g.Encrypt(env); err == nil {
		t.Error("expected error when encryption is not configured")
	}
}

func TestValidateStructure(t *testing.T) {
	g := newGuard(t, Config{HMACSecret: "s", MaxPayloadBytes: 128})

	t.Run("clean payload", func(t *testing.T) {
		env := types.NewEnvelope("agent-1", "task.created", []byte(`{"note":"hello"}`))
		ok, warnings, err := g.ValidateStructure(env)
		if !ok || err != nil {
			t.Fatalf("expected pass, got ok=%t err=%v", ok, err)
		}
		if len(warnings) != 0 {
			t.Errorf("expected no warnings, got %v", warnings)
		}
	})

	t.Run("suspicious patterns warn but pass", func(t *testing.T) {
		env := types.NewEnvelope("agent-1", "task.created",
			[]byte(`{"html":"<script>alert(1)</script>","sql":"'; DROP TABLE users--"}`))
		ok, warnings, err := g.ValidateStructure(env)
		if !ok || err != nil {
			t.Fatalf("warnings must not fail validation, got ok=%t err=%v", ok, err)
		}
		if len(warnings) != 2 {
			t.Errorf("expected 2 warnings, got %v", warnings)
		}
	})

	t.Run("hard failure on oversized payload", func(t *testing.T) {
		env := types.NewEnvelope("agent-1", "task.created", bytes.Repeat([]byte("a"), 256))
		ok, _, err := g.ValidateStructure(env)
		if ok || err == nil {
			t.Error("oversized payload must fail hard")
		}
	})
}

func assertAuthError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	ce := types.AsCourierError(err)
	if ce.Code != types.ErrCodeAuthentication {
		t.Errorf("expected %s, got %s", types.ErrCodeAuthentication, ce.Code)
	}
}
