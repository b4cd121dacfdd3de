package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/sider-auth/internal/errors"
	"github.com/jrsteele09/sider-auth/token/refresh"
	"github.com/jrsteele09/sider-auth/users"
	"github.com/pkg/errors"
)

// Pair is the token response sent to clients after login, registration or
// refresh.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Introspection describes a verified access token. When Active is false the
// other fields may not be populated.
type Introspection struct {
	Active bool   `json:"active"`          // Is the token valid
	Sub    string `json:"sub,omitempty"`   // User ID
	Email  string `json:"email,omitempty"` // User email at issue time
	Jti    string `json:"jti,omitempty"`   // Unique token ID for revocation
	Iss    string `json:"iss,omitempty"`   // Issuer
	Iat    int64  `json:"iat,omitempty"`   // Issued at time
	Exp    int64  `json:"exp,omitempty"`   // Expiration
}

type Manager struct {
	signer            Signer
	refresh           *refresh.Manager
	userRepo          users.UserRepo
	denylist          Denylist
	issuer            string
	accessTokenExpiry time.Duration
	nowFunc           func() time.Time
}

type ManagerOption func(*Manager)

func WithAccessTokenExpiry(expiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = expiry
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

// WithDenylist replaces the in-memory denylist of logged out access tokens.
func WithDenylist(denylist Denylist) ManagerOption {
	return func(m *Manager) {
		m.denylist = denylist
	}
}

func New(refreshManager *refresh.Manager, userRepo users.UserRepo, signer Signer, options ...ManagerOption) (*Manager, error) {
	if refreshManager == nil {
		return nil, errors.New("[token.New] refresh token manager is required")
	}
	if userRepo == nil {
		return nil, errors.New("[token.New] users repo is required")
	}
	if signer == nil {
		return nil, errors.New("[token.New] signer is required")
	}

	m := &Manager{
		refresh:      refreshManager,
		userRepo:     userRepo,
		signer:       signer,
		denylist:     NewMemoryDenylist(),
	}
	for _, opt := range options {
		opt(m)
	}

	if m.accessTokenExpiry <= 0 {
		m.accessTokenExpiry = time.Hour
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m, nil
}

// CreateAccessToken signs an access token for user.
func (c *Manager) CreateAccessToken(user *users.User) (string, error) {
	now := c.nowFunc()
	claims := jwt.MapClaims{
		"sub":   user.ID,                             // The subject, the user ID
		"email": user.Email,                          // Convenience for clients that decode the token
		"iat":   now.Unix(),                          // Issued At: the time at which the token was issued
		"exp":   now.Add(c.accessTokenExpiry).Unix(), // Expiry: when the token will expire
		"jti":   uuid.New().String(),                 // Unique token ID for revocation
	}
	if c.issuer != "" {
		claims["iss"] = c.issuer
	}
	return c.signer.Sign(claims)
}

// IssueTokens creates an access token and a fresh refresh token for user.
func (c *Manager) IssueTokens(user *users.User) (*Pair, error) {
	accessToken, err := c.CreateAccessToken(user)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.IssueTokens] CreateAccessToken")
	}
	refreshToken, err := c.refresh.Create(user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.IssueTokens] CreateRefreshToken")
	}
	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(c.accessTokenExpiry.Seconds()),
		TokenType:    "bearer",
	}, nil
}

// Refresh rotates refreshToken and issues a new pair for its owner.
func (c *Manager) Refresh(refreshToken string) (*Pair, *users.User, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, nil, apperrors.ErrInvalidRefreshToken
	}
	rt, err := c.refresh.Validate(refreshToken)
	if err != nil {
		return nil, nil, err
	}

	user, err := c.userRepo.GetByID(rt.UserID)
	if err != nil {
		_ = c.refresh.Delete(refreshToken)
		return nil, nil, apperrors.ErrInvalidRefreshToken
	}
	if user.Blocked {
		_ = c.refresh.Delete(refreshToken)
		return nil, nil, apperrors.ErrUserBlocked
	}

	_, nextRefresh, err := c.refresh.Rotate(refreshToken)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Manager.Refresh] Rotate")
	}
	accessToken, err := c.CreateAccessToken(user)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Manager.Refresh] CreateAccessToken")
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: nextRefresh,
		ExpiresIn:    int(c.accessTokenExpiry.Seconds()),
		TokenType:    "bearer",
	}, user, nil
}

// Introspection verifies rawToken. Inactive tokens come back with one of
// ErrInvalidToken, ErrTokenExpired or ErrTokenRevoked.
func (c *Manager) Introspection(rawToken string) (*Introspection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &Introspection{Active: false}, apperrors.ErrInvalidToken
	}

	claims, err := c.parse(rawToken)
	if err != nil {
		return &Introspection{Active: false}, err
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	jti, _ := claims["jti"].(string)
	iss, _ := claims["iss"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)

	if jti != "" && c.denylist.IsRevoked(jti) {
		return &Introspection{Active: false}, apperrors.ErrTokenRevoked
	}

	return &Introspection{
		Active: true,
		Sub:    sub,
		Email:  email,
		Jti:    jti,
		Iss:    iss,
		Iat:    int64(iat),
		Exp:    int64(exp),
	}, nil
}

// RevokeAccessToken denylists an access token by its jti until it expires.
func (c *Manager) RevokeAccessToken(rawToken string) error {
	claims, err := c.parse(rawToken)
	if err != nil {
		return err
	}

	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return errors.Wrap(apperrors.ErrInvalidToken, "token missing jti claim")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return errors.Wrap(apperrors.ErrInvalidToken, "token missing exp claim")
	}
	return c.denylist.Revoke(jti, exp.Time)
}

// RevokeRefreshToken deletes a refresh token. Unknown tokens are ignored.
func (c *Manager) RevokeRefreshToken(refreshToken string) {
	if refreshToken == "" {
		return
	}
	_ = c.refresh.Delete(refreshToken)
}

// CleanupRevokedTokens drops denylist entries for tokens that have expired
// and reports how many were dropped.
func (c *Manager) CleanupRevokedTokens() int {
	return c.denylist.Prune(c.nowFunc())
}

func (c *Manager) parse(rawToken string) (jwt.MapClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.signer.GetSigningMethod().Alg()}),
		jwt.WithTimeFunc(c.nowFunc),
		jwt.WithExpirationRequired(),
	)
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(rawToken, claims, c.signer.GetVerificationKey)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperrors.ErrTokenExpired
	case err != nil:
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "%v", err)
	case !token.Valid:
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}
