package auth

import (
	"context"
	"errors"
	"testing"
)

func TestStaticVerifier(t *testing.T) {
	v, err := NewStaticVerifier("tok-a:user-a, tok-b:user-b")
	if err != nil {
		t.Fatalf("NewStaticVerifier() error = %v", err)
	}

	user, err := v.Verify(context.Background(), "tok-a")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if user != "user-a" {
		t.Fatalf("user = %q, want user-a", user)
	}

	if _, err := v.Verify(context.Background(), "unknown"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token error = %v, want ErrInvalidToken", err)
	}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token error = %v, want ErrInvalidToken", err)
	}
}

func TestStaticVerifierRejectsMalformedPairs(t *testing.T) {
	for _, pairs := range []string{"justatoken", "tok:", ":user"} {
		if _, err := NewStaticVerifier(pairs); err == nil {
			t.Fatalf("NewStaticVerifier(%q) should fail", pairs)
		}
	}
}

func TestInsecureVerifier(t *testing.T) {
	v := InsecureVerifier{}
	user, err := v.Verify(context.Background(), "dev-user")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if user != "dev-user" {
		t.Fatalf("user = %q, want dev-user", user)
	}
	if _, err := v.Verify(context.Background(), "  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("blank token error = %v, want ErrInvalidToken", err)
	}
}

func TestNewPicksVerifier(t *testing.T) {
	v, err := New("")
	if err != nil {
		t.Fatalf("New(\"\") error = %v", err)
	}
	if _, ok := v.(InsecureVerifier); !ok {
		t.Fatalf("New(\"\") type = %T, want InsecureVerifier", v)
	}

	v, err = New("tok:user")
	if err != nil {
		t.Fatalf("New(pairs) error = %v", err)
	}
	if _, ok := v.(*StaticVerifier); !ok {
		t.Fatalf("New(pairs) type = %T, want *StaticVerifier", v)
	}
}
