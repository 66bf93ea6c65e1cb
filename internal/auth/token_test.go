package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueVerify(t *testing.T) {
	s := NewSigner("secret")
	tok, err := s.Issue(" alice.near ", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Account != "alice.near" {
		t.Fatalf("got account %q want alice.near", claims.Account)
	}
}

func TestVerifyRejects(t *testing.T) {
	s := NewSigner("secret")
	other := NewSigner("other")
	foreign, _ := other.Issue("alice", time.Hour)

	past := NewSigner("secret")
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := past.Issue("alice", time.Hour)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrInvalidToken},
		{name: "garbage", token: "abc.def.ghi", want: ErrInvalidToken},
		{name: "wrong key", token: foreign, want: ErrInvalidToken},
		{name: "expired", token: expired, want: ErrExpiredToken},
		{name: "alg none", token: none, want: ErrInvalidToken},
	}
	for _, tc := range tests {
		if _, err := s.Verify(tc.token); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"":            "",
	}
	for in, want := range tests {
		if got := BearerToken(in); got != want {
			t.Fatalf("BearerToken(%q) got %q want %q", in, got, want)
		}
	}
}
