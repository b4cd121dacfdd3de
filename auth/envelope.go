package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/sider-auth/session"
)

// envelope is the backend's {code, data, msg} wrapper. Flat bodies are
// accepted too; Code is nil for them.
type envelope struct {
	Code    *json.Number    `json:"code"`
	Data    json.RawMessage `json:"data"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (e envelope) message() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Message != "":
		return e.Message
	}
	return e.Error
}

// decodeResponse unwraps a response body into its payload. A missing code is
// success as long as the HTTP status is 2xx, and a data object is unwrapped
// whether or not the code is present.
func decodeResponse(status int, body []byte) (json.RawMessage, error) {
	var env envelope
	trimmed := bytes.TrimSpace(body)
	isObject := len(trimmed) > 0 && trimmed[0] == '{'
	if isObject {
		if err := json.Unmarshal(trimmed, &env); err != nil {
			env = envelope{}
			isObject = false
		}
	}

	if status < 200 || status > 299 {
		msg := env.message()
		if msg == "" && !isObject {
			msg = string(trimmed)
		}
		return nil, &HTTPError{StatusCode: status, Message: msg}
	}

	if env.Code == nil {
		if !isObject {
			return nil, fmt.Errorf("unexpected response body %q", truncate(string(trimmed), 64))
		}
		// Envelope without a code: the payload is still under data
		if data := bytes.TrimSpace(env.Data); len(data) > 0 && data[0] == '{' {
			return json.RawMessage(data), nil
		}
		return json.RawMessage(trimmed), nil
	}

	code, err := strconv.Atoi(env.Code.String())
	if err != nil {
		return nil, fmt.Errorf("invalid envelope code %q", env.Code.String())
	}
	if code != 0 {
		return nil, &APIError{Code: code, Message: env.message()}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return json.RawMessage(`{}`), nil
	}
	return env.Data, nil
}

// tokenResponse tolerates both snake_case and camelCase token fields.
type tokenResponse struct {
	AccessToken       string               `json:"access_token"`
	AccessTokenCamel  string               `json:"accessToken"`
	RefreshToken      string               `json:"refresh_token"`
	RefreshTokenCamel string               `json:"refreshToken"`
	ExpiresIn         float64              `json:"expires_in"`
	ExpiresInCamel    float64              `json:"expiresIn"`
	User              *session.UserProfile `json:"user"`
}

func (t tokenResponse) access() string {
	if t.AccessToken != "" {
		return t.AccessToken
	}
	return t.AccessTokenCamel
}

func (t tokenResponse) refresh() string {
	if t.RefreshToken != "" {
		return t.RefreshToken
	}
	return t.RefreshTokenCamel
}

func (t tokenResponse) expiresIn() time.Duration {
	secs := t.ExpiresIn
	if secs <= 0 {
		secs = t.ExpiresInCamel
	}
	return time.Duration(secs * float64(time.Second))
}

func parseTokenResponse(payload json.RawMessage) (tokenResponse, error) {
	var tr tokenResponse
	if err := json.Unmarshal(payload, &tr); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	return tr, nil
}

// expiry prefers expires_in and falls back to the exp claim of the access
// token. The token is not verified, the client only needs the timestamp.
func (t tokenResponse) expiry(now time.Time) time.Time {
	if d := t.expiresIn(); d > 0 {
		return now.Add(d)
	}
	if exp, ok := jwtExpiry(t.access()); ok {
		return exp
	}
	return time.Time{}
}

func jwtExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func parseProfile(payload json.RawMessage) (*session.UserProfile, error) {
	var wrapped struct {
		User *session.UserProfile `json:"user"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.User != nil {
		return checkProfile(wrapped.User)
	}
	var p session.UserProfile
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return checkProfile(&p)
}

func checkProfile(p *session.UserProfile) (*session.UserProfile, error) {
	if p.ID == "" && p.Email == "" {
		return nil, ErrEmptyProfile
	}
	return p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
