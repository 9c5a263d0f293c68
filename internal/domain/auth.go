package domain

import (
	"net/url"
	"time"
)

// AuthToken is the opaque Miniserver session token. Invariant: never
// logged — callers must use AuthParams/String only to build requests, and
// must never pass an AuthToken to a logger.
type AuthToken struct {
	Token    string
	Username string
	IssuedAt time.Time
}

// AuthParams renders the URL query fragment appended to every
// authenticated request: autht=<token>&user=<username>.
func (t AuthToken) AuthParams() string {
	v := url.Values{}
	v.Set("autht", t.Token)
	v.Set("user", t.Username)
	return v.Encode()
}

// Expired reports whether the token is older than maxAge.
func (t AuthToken) Expired(now time.Time, maxAge time.Duration) bool {
	if t.Token == "" {
		return true
	}
	return now.Sub(t.IssuedAt) > maxAge
}
