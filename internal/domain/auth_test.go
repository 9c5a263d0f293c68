package domain

import (
	"net/url"
	"testing"
	"time"
)

func TestAuthTokenAuthParamsNeverLeaksRawFormat(t *testing.T) {
	tok := AuthToken{Token: "sekret-token", Username: "admin"}
	params := tok.AuthParams()
	v, err := url.ParseQuery(params)
	if err != nil {
		t.Fatalf("AuthParams produced unparseable query: %v", err)
	}
	if v.Get("autht") != "sekret-token" || v.Get("user") != "admin" {
		t.Fatalf("AuthParams = %q, missing expected autht/user fields", params)
	}
}

func TestAuthTokenExpired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := AuthToken{Token: "t", Username: "u", IssuedAt: issued}

	if tok.Expired(issued.Add(30*time.Minute), time.Hour) {
		t.Error("expected token younger than maxAge to be valid")
	}
	if !tok.Expired(issued.Add(90*time.Minute), time.Hour) {
		t.Error("expected token older than maxAge to be expired")
	}

	empty := AuthToken{}
	if !empty.Expired(issued, time.Hour) {
		t.Error("expected an empty token to always be considered expired")
	}
}
