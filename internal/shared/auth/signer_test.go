package auth

import (
	"errors"
	"testing"
)

func TestSignerKnownVectors(t *testing.T) {
	signer := NewSigner("django.core.signing", "secret")

	cases := map[string]string{
		"42":      "q7ziyS7_gJNEByNT8L4hZZ3YzKY",
		"user:42": "UYOge41UnhEgpygJgwiE4GM3qN4",
	}
	for value, expected := range cases {
		if got := string(signer.Signature([]byte(value))); got != expected {
			t.Fatalf("Signature(%q) expected %q got %q", value, expected, got)
		}
		if err := signer.Verify(value + ":" + expected); err != nil {
			t.Fatalf("Verify(%q) unexpected error: %v", value, err)
		}
	}
}

func TestSignerRoundTrip(t *testing.T) {
	t.Parallel()

	values := []string{"", "1", "abc", "user:42:extra", "ünïcode"}
	for _, value := range values {
		signer := NewSigner("salt", "secret")
		if err := signer.Verify(signer.Sign(value)); err != nil {
			t.Fatalf("Verify(Sign(%q)) unexpected error: %v", value, err)
		}
	}
}

func TestSignerRejects(t *testing.T) {
	t.Parallel()

	signer := NewSigner("salt", "secret")
	token := signer.Sign("value")
	sig := string(signer.Signature([]byte("value")))

	mutatedSig := []byte(sig)
	if mutatedSig[0] == 'A' {
		mutatedSig[0] = 'B'
	} else {
		mutatedSig[0] = 'A'
	}

	cases := map[string]struct {
		signer *Signer
		token  string
	}{
		"no colon":         {signer: signer, token: "valuewithoutsignature"},
		"empty":            {signer: signer, token: ""},
		"different salt":   {signer: NewSigner("other", "secret"), token: token},
		"different secret": {signer: NewSigner("salt", "other"), token: token},
		"mutated value":    {signer: signer, token: "valuf:" + sig},
		"mutated sig":      {signer: signer, token: "value:" + string(mutatedSig)},
		"padded sig":       {signer: signer, token: token + "="},
		"empty sig":        {signer: signer, token: "value:"},
	}

	for name, tc := range cases {
		err := tc.signer.Verify(tc.token)
		if !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid got %v", name, err)
		}
	}
}

func TestSignerValueMayContainColons(t *testing.T) {
	t.Parallel()

	signer := NewSigner("salt", "secret")
	token := signer.Sign("a:b:c")
	if err := signer.Verify(token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := signer.Verify("a:b:" + string(signer.Signature([]byte("a:b:c")))); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for truncated value, got %v", err)
	}
}
