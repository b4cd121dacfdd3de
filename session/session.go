// Package session holds the client-side auth records (tokens, expiry, cached
// profile) and the key layouts used to persist them in each storage domain.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session is the access/refresh token pair plus the access token expiry.
// A zero Expiry means the expiry is unknown.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// IsZero reports whether no token is held at all.
func (s Session) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Expired reports whether the access token has expired, treating a token that
// expires within skew as already expired. Unknown expiry never expires.
func (s Session) Expired(now time.Time, skew time.Duration) bool {
	if s.Expiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.Expiry)
}

// UserProfile is the cached identity of the logged in user.
type UserProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// DisplayName prefers the full name and falls back to the username.
func (p UserProfile) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.Username
}

// UnmarshalJSON accepts numeric or string ids and the "_id" alias some
// backends send.
func (p *UserProfile) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       json.RawMessage `json:"id"`
		AltID    json.RawMessage `json:"_id"`
		Email    string          `json:"email"`
		Username string          `json:"username"`
		Name     string          `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id := raw.ID
	if len(id) == 0 || string(id) == "null" {
		id = raw.AltID
	}
	parsedID, err := parseID(id)
	if err != nil {
		return err
	}
	*p = UserProfile{
		ID:       parsedID,
		Email:    raw.Email,
		Username: raw.Username,
		Name:     raw.Name,
	}
	return nil
}

func parseID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("user id: unsupported value %s", string(raw))
}
