package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/sider-auth/internal/config"
	"github.com/jrsteele09/sider-auth/internal/logging"
	"github.com/jrsteele09/sider-auth/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultExpirySkew = 30 * time.Second
	maxResponseBytes  = 1 << 20
)

// ServiceConfig holds the backend location and timing knobs.
type ServiceConfig struct {
	BaseURL    string        // Backend root, e.g. "https://api.example.com"
	Timeout    time.Duration // Per-request timeout
	ExpirySkew time.Duration // Treat tokens expiring within this window as expired
}

// ConfigFrom builds a ServiceConfig from the application config.
func ConfigFrom(c config.APIConfig) ServiceConfig {
	return ServiceConfig{
		BaseURL:    c.GetAPIBaseURL(),
		Timeout:    c.GetHTTPTimeout(),
		ExpirySkew: c.GetExpirySkew(),
	}
}

// LoginResult is returned by Login and Register. Session is nil when a
// registration did not log the user in.
type LoginResult struct {
	Session *session.Session
	User    *session.UserProfile
}

// RegisterInput holds the fields sent to the register endpoint.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Service performs login, registration, refresh and profile calls against
// the backend and persists the resulting session through a session.Store.
//
// Storage is re-read on every call so writes made by other processes (for
// example through the storage bridge) are observed. The State is kept
// explicitly so callers never see a half-written refresh.
type Service struct {
	cfg        ServiceConfig
	store      *session.Store
	httpClient *http.Client
	nowTime    func() time.Time
	logger     zerolog.Logger

	refreshGroup singleflight.Group
	lock         sync.RWMutex
	state        State
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithHTTPClient replaces the HTTP client used for backend calls
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		s.httpClient = client
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service. The base URL and store are required.
func NewService(cfg ServiceConfig, store *session.Store, options ...ServiceOption) (*Service, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("[NewService] base URL is required")
	}
	if store == nil {
		return nil, errors.New("[NewService] session store is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ExpirySkew < 0 {
		cfg.ExpirySkew = 0
	} else if cfg.ExpirySkew == 0 {
		cfg.ExpirySkew = defaultExpirySkew
	}

	s := &Service{
		cfg:     cfg,
		store:   store,
		nowTime: time.Now,
		logger:  logging.Component("auth"),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if _, err := s.load(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Could not read stored session, starting logged out")
	}
	return s, nil
}

// State returns the last observed session state.
func (s *Service) State() State {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state
}

// Login authenticates with email and password and persists the returned
// session. Storage is untouched on failure.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	payload, err := s.call(ctx, http.MethodPost, RouteLogin, loginRequest{Email: strings.TrimSpace(email), Password: password}, "")
	if err != nil {
		s.logger.Warn().Err(err).Str("email", email).Msg("Login failed")
		return nil, errors.Wrap(err, "[Service.Login]")
	}
	tr, err := parseTokenResponse(payload)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login]")
	}
	if tr.access() == "" {
		return nil, errors.Wrap(ErrMissingTokens, "[Service.Login]")
	}

	result, err := s.persistLogin(ctx, tr)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login] persist session")
	}
	s.logger.Info().Str("email", email).Msg("Logged in")
	return result, nil
}

// Register creates an account. When the backend returns tokens the user is
// logged in as with Login; otherwise only the profile is returned.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*LoginResult, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, ErrMissingCredentials
	}
	in.Email = strings.TrimSpace(in.Email)
	payload, err := s.call(ctx, http.MethodPost, RouteRegister, in, "")
	if err != nil {
		s.logger.Warn().Err(err).Str("email", in.Email).Msg("Registration failed")
		return nil, errors.Wrap(err, "[Service.Register]")
	}
	tr, err := parseTokenResponse(payload)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Register]")
	}
	if tr.access() == "" {
		user := tr.User
		if user == nil {
			user, _ = parseProfile(payload)
		}
		return &LoginResult{User: user}, nil
	}

	result, err := s.persistLogin(ctx, tr)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Register] persist session")
	}
	return result, nil
}

// RefreshToken exchanges the stored refresh token for a new session. Any
// failure after the request is attempted clears all stored auth state.
// Concurrent callers share a single request, which runs to completion even
// when the caller that started it gives up; a cancelled caller gets ctx.Err().
func (s *Service) RefreshToken(ctx context.Context) (session.Session, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.refreshGroup.DoChan("refresh", func() (any, error) {
		return s.refresh(shared)
	})
	select {
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return session.Session{}, res.Err
		}
		return res.Val.(session.Session), nil
	}
}

// refresh runs inside the singleflight with a context detached from callers.
func (s *Service) refresh(ctx context.Context) (session.Session, error) {
	current, err := s.load(ctx)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "[Service.RefreshToken] load session")
	}
	if current.RefreshToken == "" {
		return session.Session{}, ErrNoRefreshToken
	}

	s.setState(StateRefreshing)
	payload, err := s.call(ctx, http.MethodPost, RouteRefresh, refreshRequest{RefreshToken: current.RefreshToken}, "")
	var tr tokenResponse
	if err == nil {
		tr, err = parseTokenResponse(payload)
	}
	if err == nil && tr.access() == "" {
		err = ErrMissingTokens
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Token refresh failed, clearing session")
		s.forceLogout(ctx)
		return session.Session{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	next := session.Session{
		AccessToken:  tr.access(),
		RefreshToken: tr.refresh(),
		Expiry:       tr.expiry(s.nowTime()),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if err := s.store.Save(ctx, next); err != nil {
		s.logger.Error().Err(err).Msg("Could not store refreshed session, clearing session")
		s.forceLogout(ctx)
		return session.Session{}, errors.Wrap(err, "[Service.RefreshToken] save session")
	}
	if tr.User != nil {
		if err := s.store.SaveProfile(ctx, *tr.User); err != nil {
			s.logger.Warn().Err(err).Msg("Could not cache profile from refresh response")
		}
	}
	s.setState(StateValid)
	s.logger.Debug().Time("expiry", next.Expiry).Msg("Token refreshed")
	return next, nil
}

// GetCurrentUser returns the cached profile unless forceRefresh is set, in
// which case (or when nothing is cached) the profile is fetched from the
// backend. A 401 triggers one refresh and exactly one retry.
func (s *Service) GetCurrentUser(ctx context.Context, forceRefresh bool) (*session.UserProfile, error) {
	if !forceRefresh {
		cached, err := s.store.Profile(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring unreadable cached profile")
		} else if cached != nil {
			return cached, nil
		}
	}

	current, err := s.load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetCurrentUser] load session")
	}
	if current.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}

	profile, err := s.fetchProfile(ctx, current.AccessToken)
	if IsUnauthorized(err) {
		s.logger.Debug().Msg("Profile request unauthorized, refreshing once")
		refreshed, rerr := s.RefreshToken(ctx)
		if rerr != nil {
			return nil, errors.Wrap(rerr, "[Service.GetCurrentUser]")
		}
		profile, err = s.fetchProfile(ctx, refreshed.AccessToken)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetCurrentUser]")
	}

	if err := s.store.SaveProfile(ctx, *profile); err != nil {
		return nil, errors.Wrap(err, "[Service.GetCurrentUser] cache profile")
	}
	return profile, nil
}

// fetchProfile tries the primary endpoint then the fallback. A 401 from
// either is returned immediately so the caller can refresh.
func (s *Service) fetchProfile(ctx context.Context, accessToken string) (*session.UserProfile, error) {
	var lastErr error
	for _, route := range []string{RouteMe, RouteProfile} {
		payload, err := s.call(ctx, http.MethodGet, route, nil, accessToken)
		if err == nil {
			profile, perr := parseProfile(payload)
			if perr == nil {
				return profile, nil
			}
			err = perr
		}
		if IsUnauthorized(err) {
			return nil, err
		}
		s.logger.Debug().Err(err).Str("route", route).Msg("Profile endpoint failed")
		lastErr = err
	}
	return nil, lastErr
}

// GetAuthHeaders returns bearer headers for the current session, refreshing
// first when the access token has expired.
func (s *Service) GetAuthHeaders(ctx context.Context) (http.Header, error) {
	current, err := s.validSession(ctx)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+current.AccessToken)
	headers.Set("Content-Type", "application/json")
	return headers, nil
}

// GetTokens returns the stored session as is.
func (s *Service) GetTokens(ctx context.Context) (session.Session, error) {
	return s.load(ctx)
}

// IsAuthenticated reports whether an access token is stored.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	current, err := s.load(ctx)
	return err == nil && current.AccessToken != ""
}

// Logout revokes the refresh token on the backend (best effort) and clears
// all stored auth state.
func (s *Service) Logout(ctx context.Context) error {
	current, err := s.load(ctx)
	if err == nil && !current.IsZero() {
		if _, err := s.call(ctx, http.MethodPost, RouteLogout, refreshRequest{RefreshToken: current.RefreshToken}, current.AccessToken); err != nil {
			s.logger.Warn().Err(err).Msg("Backend logout failed, clearing local session anyway")
		}
	}
	if err := s.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "[Service.Logout]")
	}
	s.setState(StateLoggedOut)
	return nil
}

func (s *Service) validSession(ctx context.Context) (session.Session, error) {
	current, err := s.load(ctx)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "load session")
	}
	if current.AccessToken == "" {
		return session.Session{}, ErrNotAuthenticated
	}
	if current.Expired(s.nowTime(), s.cfg.ExpirySkew) {
		refreshed, err := s.RefreshToken(ctx)
		if err != nil {
			return session.Session{}, err
		}
		return refreshed, nil
	}
	return current, nil
}

func (s *Service) persistLogin(ctx context.Context, tr tokenResponse) (*LoginResult, error) {
	next := session.Session{
		AccessToken:  tr.access(),
		RefreshToken: tr.refresh(),
		Expiry:       tr.expiry(s.nowTime()),
	}
	// Overwrite first so a failed write leaves the previous session intact
	if err := s.store.Save(ctx, next); err != nil {
		return nil, err
	}
	if tr.User != nil {
		if err := s.store.SaveProfile(ctx, *tr.User); err != nil {
			return nil, err
		}
	} else if err := s.store.ClearProfile(ctx); err != nil {
		return nil, err
	}
	s.setState(StateValid)
	return &LoginResult{Session: &next, User: tr.User}, nil
}

// load reads the stored session and updates the observed state, unless a
// refresh is in flight.
func (s *Service) load(ctx context.Context) (session.Session, error) {
	current, err := s.store.Load(ctx)
	if err != nil {
		return session.Session{}, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != StateRefreshing {
		s.state = stateOf(current)
	}
	return current, nil
}

func stateOf(current session.Session) State {
	if current.AccessToken != "" {
		return StateValid
	}
	return StateLoggedOut
}

// forceLogout clears storage even when ctx is already done, so the state
// never claims logged out while tokens remain.
func (s *Service) forceLogout(ctx context.Context) {
	if err := s.store.Clear(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear session after refresh failure")
	}
	s.setState(StateLoggedOut)
}

func (s *Service) setState(state State) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.state = state
}

// call sends one request and unwraps the response envelope.
func (s *Service) call(ctx context.Context, method, route string, body any, bearer string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+route, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %w", ErrRequestFailed, route, err)
	}
	return decodeResponse(resp.StatusCode, raw)
}
