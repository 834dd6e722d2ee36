package auth

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Rank(t *testing.T) {
	if !(RoleGuest.Rank() < RoleEmployee.Rank() && RoleEmployee.Rank() < RoleAdmin.Rank()) {
		t.Fatalf("roles are not ordered guest < employee < admin")
	}
	if Role("root").Valid() {
		t.Fatalf("did not expect unknown role to be valid")
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	if err != nil || r != RoleAdmin {
		t.Fatalf("unexpected parse: %v %v", r, err)
	}
	if _, err := ParseRole("superuser"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestParseStorageType(t *testing.T) {
	cases := map[string]StorageType{
		"session":        StorageSession,
		"sessionStorage": StorageSession,
		"LOCAL":          StorageLocal,
		"custom":         StorageCustom,
	}
	for in, want := range cases {
		got, err := ParseStorageType(in)
		if err != nil || got != want {
			t.Fatalf("ParseStorageType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseStorageType("cookie"); err == nil {
		t.Fatalf("expected error for unknown storage type")
	}
}

func TestSession_Complete(t *testing.T) {
	s := Session{User: User{ID: "u1", Email: "e@x.com"}, Tokens: Tokens{AccessToken: "A"}}
	if !s.Complete() {
		t.Fatalf("expected complete session")
	}
	s.Tokens.AccessToken = " "
	if s.Complete() {
		t.Fatalf("blank access token must not be complete")
	}
	s.Tokens.AccessToken = "A"
	s.User.Email = ""
	if s.Complete() {
		t.Fatalf("user without email must not be complete")
	}
}

func TestTokens_CloneAndExpired(t *testing.T) {
	now := time.Now()
	tok := Tokens{
		AccessToken: "A",
		ExpiresAt:   now.Add(time.Minute),
		Passthrough: map[string]json.RawMessage{"x": json.RawMessage(`"y"`)},
	}
	c := tok.Clone()
	c.Passthrough["x"][1] = 'z'
	if string(tok.Passthrough["x"]) != `"y"` {
		t.Fatalf("clone shares passthrough bytes")
	}
	if tok.Expired(now) || !tok.Expired(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry evaluation")
	}
}
