package auth

import (
	"testing"
	"time"
)

var secret = []byte("test-secret")

func TestSignAndParse(t *testing.T) {
	token, err := SignJWT("user-1", []string{RoleAdmin}, secret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if !claims.HasRole(RoleAdmin) {
		t.Fatal("admin role lost")
	}
	if claims.HasRole("moderator") {
		t.Fatal("phantom role")
	}
}

func TestParseRejects(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token, _ := SignJWT("user-1", nil, secret, time.Hour, time.Now())
		if _, err := ParseJWT(token, []byte("other")); err == nil {
			t.Fatal("wrong secret accepted")
		}
	})

	t.Run("expired", func(t *testing.T) {
		token, _ := SignJWT("user-1", nil, secret, time.Minute, time.Now().Add(-time.Hour))
		if _, err := ParseJWT(token, secret); err == nil {
			t.Fatal("expired token accepted")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := ParseJWT("not.a.token", secret); err == nil {
			t.Fatal("garbage accepted")
		}
	})
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"", ""},
		{"Bearer", ""},
	}
	for _, tc := range cases {
		if got := ExtractBearer(tc.in); got != tc.want {
			t.Fatalf("ExtractBearer(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
