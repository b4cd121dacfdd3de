package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/sider-auth/auth"
	"github.com/jrsteele09/sider-auth/kv"
	"github.com/jrsteele09/sider-auth/kv/memstore"
	"github.com/jrsteele09/sider-auth/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fakeBackend struct {
	server   *httptest.Server
	lock     sync.Mutex
	calls    map[string]int
	handlers map[string]http.HandlerFunc
}

func newFakeBackend(t *testing.T) *fakeBackend {
	f := &fakeBackend{
		calls:    make(map[string]int),
		handlers: make(map[string]http.HandlerFunc),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.calls[r.URL.Path]++
		h := f.handlers[r.URL.Path]
		f.lock.Unlock()
		if h == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "msg": "not found"})
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBackend) handle(route string, h http.HandlerFunc) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.handlers[route] = h
}

func (f *fakeBackend) count(route string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls[route]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(data any) map[string]any {
	return map[string]any{"code": 0, "data": data, "msg": "ok"}
}

func respond(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, body)
	}
}

type testFixture struct {
	backend *fakeBackend
	kv      *memstore.Store
	store   *session.Store
	service *auth.Service
}

func setupTestFixture(t *testing.T, seed map[string]string) *testFixture {
	return setupFixtureOver(t, seed, nil)
}

var errWriteFailed = errors.New("write failed")

// failingStore rejects writes to the listed keys.
type failingStore struct {
	kv.Store
	failSet map[string]bool
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.failSet[key] {
		return errWriteFailed
	}
	return s.Store.Set(ctx, key, value)
}

// setupFixtureOver builds a fixture whose storage fails writes to failKeys.
func setupFixtureOver(t *testing.T, seed map[string]string, failKeys []string, options ...auth.ServiceOption) *testFixture {
	backend := newFakeBackend(t)
	mem := memstore.NewWithData(seed)
	failing := &failingStore{Store: mem, failSet: make(map[string]bool)}
	for _, key := range failKeys {
		failing.failSet[key] = true
	}
	store := session.NewStore(failing, session.ExtensionLayout)
	options = append([]auth.ServiceOption{auth.WithNowTime(func() time.Time { return testNow })}, options...)
	service, err := auth.NewService(
		auth.ServiceConfig{BaseURL: backend.server.URL, Timeout: 5 * time.Second},
		store,
		options...,
	)
	require.NoError(t, err)
	return &testFixture{backend: backend, kv: mem, store: store, service: service}
}

func (f *testFixture) snapshot(t *testing.T) map[string]string {
	snap, err := f.kv.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func loggedIn(expiry time.Time) map[string]string {
	return map[string]string{
		"authToken":    "access-old",
		"refreshToken": "refresh-old",
		"tokenExpiry":  expiry.UTC().Format(time.RFC3339),
	}
}

// refreshHandler only accepts the expected refresh token.
func refreshHandler(want string, data map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken != want {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid refresh token"})
			return
		}
		writeJSON(w, http.StatusOK, ok(data))
	}
}

func TestNewService_Validation(t *testing.T) {
	store := session.NewStore(memstore.New(), session.ExtensionLayout)

	_, err := auth.NewService(auth.ServiceConfig{}, store)
	require.Error(t, err)

	_, err = auth.NewService(auth.ServiceConfig{BaseURL: "http://localhost"}, nil)
	require.Error(t, err)

	service, err := auth.NewService(auth.ServiceConfig{BaseURL: "http://localhost"}, store)
	require.NoError(t, err)
	require.Equal(t, auth.StateLoggedOut, service.State())
}

func TestNewService_LoadsStateFromStorage(t *testing.T) {
	f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))
	require.Equal(t, auth.StateValid, f.service.State())
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("envelope response persists session and profile", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.backend.handle(auth.RouteLogin, respond(http.StatusOK, ok(map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"expires_in":    3600,
			"user":          map[string]any{"id": 7, "email": "ada@example.com", "name": "Ada"},
		})))

		result, err := f.service.Login(ctx, "ada@example.com", "Secret123!")
		require.NoError(t, err)
		require.Equal(t, "a1", result.Session.AccessToken)
		require.Equal(t, "r1", result.Session.RefreshToken)
		require.True(t, testNow.Add(time.Hour).Equal(result.Session.Expiry))
		require.Equal(t, "7", result.User.ID)
		require.Equal(t, auth.StateValid, f.service.State())
		require.True(t, f.service.IsAuthenticated(ctx))

		snap := f.snapshot(t)
		require.Equal(t, "a1", snap["authToken"])
		require.Equal(t, "r1", snap["refreshToken"])
		require.Equal(t, "2026-04-01T10:00:00Z", snap["tokenExpiry"])
		require.Contains(t, snap["user"], "ada@example.com")
	})

	t.Run("envelope without a code is unwrapped", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.backend.handle(auth.RouteLogin, respond(http.StatusOK, map[string]any{
			"data": map[string]any{"access_token": "a1", "refresh_token": "r1"},
			"msg":  "ok",
		}))

		result, err := f.service.Login(ctx, "ada@example.com", "pw")
		require.NoError(t, err)
		require.Equal(t, "a1", result.Session.AccessToken)

		snap := f.snapshot(t)
		require.Equal(t, "a1", snap["authToken"])
		require.Equal(t, "r1", snap["refreshToken"])
	})

	t.Run("failed write keeps the previous session", func(t *testing.T) {
		seed := loggedIn(testNow.Add(time.Hour))
		seed["user"] = `{"id":"u0","email":"old@example.com"}`
		f := setupFixtureOver(t, seed, []string{"authToken"})
		f.backend.handle(auth.RouteLogin, respond(http.StatusOK, ok(map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"user":          map[string]any{"id": "u1"},
		})))

		_, err := f.service.Login(ctx, "ada@example.com", "pw")
		require.ErrorIs(t, err, errWriteFailed)
		require.Equal(t, seed, f.snapshot(t))
		require.Equal(t, auth.StateValid, f.service.State())
	})

	t.Run("flat camelCase response", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.backend.handle(auth.RouteLogin, respond(http.StatusOK, map[string]any{
			"accessToken":  "a2",
			"refreshToken": "r2",
		}))

		result, err := f.service.Login(ctx, "ada@example.com", "pw")
		require.NoError(t, err)
		require.Equal(t, "a2", result.Session.AccessToken)
		require.Equal(t, "r2", result.Session.RefreshToken)
		require.True(t, result.Session.Expiry.IsZero())
		require.Nil(t, result.User)
	})

	t.Run("expiry from the access token exp claim", func(t *testing.T) {
		exp := testNow.Add(15 * time.Minute)
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "u1",
			"exp": exp.Unix(),
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		f := setupTestFixture(t, nil)
		f.backend.handle(auth.RouteLogin, respond(http.StatusOK, ok(map[string]any{"access_token": signed})))

		result, err := f.service.Login(ctx, "ada@example.com", "pw")
		require.NoError(t, err)
		require.Equal(t, exp.Unix(), result.Session.Expiry.Unix())
	})

	t.Run("login replaces state left by a previous user", func(t *testing.T) {
		f := setupTestFixture(t, map[string]string{"user": `{"id":"someone-else"}`, "refreshToken": "stale"})
		f.backend.handle(auth.RouteLogin, respond(http.StatusOK, ok(map[string]any{"access_token": "a3"})))

		_, err := f.service.Login(ctx, "ada@example.com", "pw")
		require.NoError(t, err)
		require.Equal(t, map[string]string{"authToken": "a3"}, f.snapshot(t))
	})

	t.Run("failures leave storage untouched", func(t *testing.T) {
		seed := map[string]string{"authToken": "keep", "refreshToken": "keep-r"}
		tests := []struct {
			name    string
			handler http.HandlerFunc
			check   func(t *testing.T, err error)
		}{
			{
				name:    "non-zero code",
				handler: respond(http.StatusOK, map[string]any{"code": 1001, "msg": "wrong password"}),
				check: func(t *testing.T, err error) {
					var apiErr *auth.APIError
					require.ErrorAs(t, err, &apiErr)
					require.Equal(t, 1001, apiErr.Code)
					require.Equal(t, "wrong password", apiErr.Message)
				},
			},
			{
				name:    "http error",
				handler: respond(http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid credentials"}),
				check: func(t *testing.T, err error) {
					var httpErr *auth.HTTPError
					require.ErrorAs(t, err, &httpErr)
					require.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
					require.Equal(t, "invalid credentials", httpErr.Message)
				},
			},
			{
				name:    "missing access token",
				handler: respond(http.StatusOK, ok(map[string]any{"refresh_token": "r"})),
				check: func(t *testing.T, err error) {
					require.ErrorIs(t, err, auth.ErrMissingTokens)
				},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := setupTestFixture(t, seed)
				f.backend.handle(auth.RouteLogin, tt.handler)

				_, err := f.service.Login(ctx, "ada@example.com", "pw")
				require.Error(t, err)
				tt.check(t, err)
				require.Equal(t, seed, f.snapshot(t))
			})
		}
	})

	t.Run("network failure", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()
		service, err := auth.NewService(auth.ServiceConfig{BaseURL: closed.URL}, session.NewStore(memstore.New(), session.ExtensionLayout))
		require.NoError(t, err)

		_, err = service.Login(ctx, "ada@example.com", "pw")
		require.ErrorIs(t, err, auth.ErrRequestFailed)
	})

	t.Run("missing credentials", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		_, err := f.service.Login(ctx, " ", "pw")
		require.ErrorIs(t, err, auth.ErrMissingCredentials)
		require.Zero(t, f.backend.count(auth.RouteLogin))
	})
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("without tokens returns the profile only", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.backend.handle(auth.RouteRegister, respond(http.StatusOK, ok(map[string]any{
			"user": map[string]any{"id": "u9", "email": "new@example.com"},
		})))

		result, err := f.service.Register(ctx, auth.RegisterInput{Email: "new@example.com", Password: "Secret123!"})
		require.NoError(t, err)
		require.Nil(t, result.Session)
		require.Equal(t, "u9", result.User.ID)
		require.False(t, f.service.IsAuthenticated(ctx))
		require.Empty(t, f.snapshot(t))
	})

	t.Run("with tokens logs in", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.backend.handle(auth.RouteRegister, respond(http.StatusOK, ok(map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"user":          map[string]any{"id": "u9", "email": "new@example.com"},
		})))

		result, err := f.service.Register(ctx, auth.RegisterInput{Email: "new@example.com", Password: "Secret123!", Name: "New"})
		require.NoError(t, err)
		require.Equal(t, "a1", result.Session.AccessToken)
		require.True(t, f.service.IsAuthenticated(ctx))
		require.Equal(t, auth.StateValid, f.service.State())
	})

	t.Run("conflict", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.backend.handle(auth.RouteRegister, respond(http.StatusConflict, map[string]any{"code": 409, "msg": "user already exists"}))

		_, err := f.service.Register(ctx, auth.RegisterInput{Email: "new@example.com", Password: "pw"})
		var httpErr *auth.HTTPError
		require.ErrorAs(t, err, &httpErr)
		require.Equal(t, http.StatusConflict, httpErr.StatusCode)
	})
}

func TestService_RefreshToken(t *testing.T) {
	ctx := context.Background()

	t.Run("no refresh token makes no request", func(t *testing.T) {
		f := setupTestFixture(t, map[string]string{"authToken": "a"})

		_, err := f.service.RefreshToken(ctx)
		require.ErrorIs(t, err, auth.ErrNoRefreshToken)
		require.Zero(t, f.backend.count(auth.RouteRefresh))
		require.Equal(t, "a", f.snapshot(t)["authToken"])
	})

	t.Run("failure clears all auth state", func(t *testing.T) {
		seed := loggedIn(testNow.Add(time.Hour))
		seed["user"] = `{"id":"u1"}`
		seed["pinnedActions"] = `["explain"]`
		f := setupTestFixture(t, seed)
		f.backend.handle(auth.RouteRefresh, respond(http.StatusUnauthorized, map[string]any{"code": 401, "msg": "refresh token expired"}))

		_, err := f.service.RefreshToken(ctx)
		require.ErrorIs(t, err, auth.ErrRefreshFailed)
		require.True(t, auth.IsUnauthorized(err))
		require.Equal(t, auth.StateLoggedOut, f.service.State())
		require.Equal(t, map[string]string{"pinnedActions": `["explain"]`}, f.snapshot(t))
	})

	t.Run("keeps the old refresh token when none is returned", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(-time.Minute)))
		f.backend.handle(auth.RouteRefresh, refreshHandler("refresh-old", map[string]any{"access_token": "access-new", "expires_in": 60}))

		next, err := f.service.RefreshToken(ctx)
		require.NoError(t, err)
		require.Equal(t, "access-new", next.AccessToken)
		require.Equal(t, "refresh-old", next.RefreshToken)
		require.Equal(t, auth.StateValid, f.service.State())

		stored, err := f.service.GetTokens(ctx)
		require.NoError(t, err)
		require.Equal(t, next, stored)
	})

	t.Run("rotates the refresh token", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(-time.Minute)))
		f.backend.handle(auth.RouteRefresh, refreshHandler("refresh-old", map[string]any{"access_token": "access-new", "refresh_token": "refresh-new"}))

		next, err := f.service.RefreshToken(ctx)
		require.NoError(t, err)
		require.Equal(t, "refresh-new", next.RefreshToken)
		require.Equal(t, "refresh-new", f.snapshot(t)["refreshToken"])
	})

	t.Run("cancelled caller neither logs out nor fails other waiters", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(-time.Minute)))
		callerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		release := make(chan struct{})
		f.backend.handle(auth.RouteRefresh, func(w http.ResponseWriter, r *http.Request) {
			cancel()
			<-release
			refreshHandler("refresh-old", map[string]any{"access_token": "access-new", "refresh_token": "refresh-new"})(w, r)
		})

		callerErr := make(chan error, 1)
		go func() {
			_, err := f.service.RefreshToken(callerCtx)
			callerErr <- err
		}()
		require.Eventually(t, func() bool { return f.backend.count(auth.RouteRefresh) == 1 }, time.Second, 5*time.Millisecond)

		type result struct {
			next session.Session
			err  error
		}
		waiter := make(chan result, 1)
		go func() {
			next, err := f.service.RefreshToken(ctx)
			waiter <- result{next: next, err: err}
		}()

		require.ErrorIs(t, <-callerErr, context.Canceled)
		require.Equal(t, "access-old", f.snapshot(t)["authToken"])
		require.NotEqual(t, auth.StateLoggedOut, f.service.State())

		time.Sleep(50 * time.Millisecond)
		close(release)

		got := <-waiter
		require.NoError(t, got.err)
		require.Equal(t, "access-new", got.next.AccessToken)
		require.Equal(t, auth.StateValid, f.service.State())
		require.Equal(t, "refresh-new", f.snapshot(t)["refreshToken"])
		require.Equal(t, 1, f.backend.count(auth.RouteRefresh))
	})

	t.Run("failed save of the new session clears storage", func(t *testing.T) {
		seed := loggedIn(testNow.Add(-time.Minute))
		seed["user"] = `{"id":"u1"}`
		f := setupFixtureOver(t, seed, []string{"authToken"})
		f.backend.handle(auth.RouteRefresh, refreshHandler("refresh-old", map[string]any{"access_token": "access-new", "refresh_token": "refresh-new"}))

		_, err := f.service.RefreshToken(ctx)
		require.ErrorIs(t, err, errWriteFailed)
		require.Equal(t, auth.StateLoggedOut, f.service.State())
		require.Empty(t, f.snapshot(t))
	})

	t.Run("failed profile write is logged", func(t *testing.T) {
		var logs bytes.Buffer
		f := setupFixtureOver(t, loggedIn(testNow.Add(-time.Minute)), []string{"user"}, auth.WithLogger(zerolog.New(&logs)))
		f.backend.handle(auth.RouteRefresh, refreshHandler("refresh-old", map[string]any{
			"access_token": "access-new",
			"user":         map[string]any{"id": "u1", "email": "ada@example.com"},
		}))

		next, err := f.service.RefreshToken(ctx)
		require.NoError(t, err)
		require.Equal(t, "access-new", next.AccessToken)
		require.Contains(t, logs.String(), "Could not cache profile")
		require.Contains(t, logs.String(), errWriteFailed.Error())
	})

	t.Run("concurrent callers share one request", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(-time.Minute)))
		release := make(chan struct{})
		f.backend.handle(auth.RouteRefresh, func(w http.ResponseWriter, r *http.Request) {
			<-release
			refreshHandler("refresh-old", map[string]any{"access_token": "access-new"})(w, r)
		})

		const callers = 8
		var wg sync.WaitGroup
		results := make(chan error, callers)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.RefreshToken(ctx)
				results <- err
			}()
		}
		require.Eventually(t, func() bool { return f.backend.count(auth.RouteRefresh) == 1 }, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool { return f.service.State() == auth.StateRefreshing }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()
		close(results)

		for err := range results {
			require.NoError(t, err)
		}
		require.Equal(t, 1, f.backend.count(auth.RouteRefresh))
	})
}

func TestService_GetCurrentUser(t *testing.T) {
	ctx := context.Background()
	profile := map[string]any{"id": "u1", "email": "ada@example.com", "username": "ada"}

	t.Run("cached profile needs no request", func(t *testing.T) {
		f := setupTestFixture(t, map[string]string{"authToken": "a", "user": `{"id":"u1","email":"ada@example.com"}`})

		user, err := f.service.GetCurrentUser(ctx, false)
		require.NoError(t, err)
		require.Equal(t, "ada@example.com", user.Email)
		require.Zero(t, f.backend.count(auth.RouteMe))
	})

	t.Run("not authenticated", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		_, err := f.service.GetCurrentUser(ctx, true)
		require.ErrorIs(t, err, auth.ErrNotAuthenticated)
	})

	t.Run("forced fetch caches the profile", func(t *testing.T) {
		f := setupTestFixture(t, map[string]string{"authToken": "a", "user": `{"id":"old"}`})
		f.backend.handle(auth.RouteMe, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer a" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "unauthorized"})
				return
			}
			writeJSON(w, http.StatusOK, ok(profile))
		})

		user, err := f.service.GetCurrentUser(ctx, true)
		require.NoError(t, err)
		require.Equal(t, "u1", user.ID)

		cached, err := f.store.Profile(ctx)
		require.NoError(t, err)
		require.Equal(t, "ada", cached.Username)
	})

	t.Run("falls back to the profile endpoint", func(t *testing.T) {
		f := setupTestFixture(t, map[string]string{"authToken": "a"})
		f.backend.handle(auth.RouteMe, respond(http.StatusInternalServerError, map[string]any{"code": 500, "msg": "boom"}))
		f.backend.handle(auth.RouteProfile, respond(http.StatusOK, ok(map[string]any{"user": profile})))

		user, err := f.service.GetCurrentUser(ctx, false)
		require.NoError(t, err)
		require.Equal(t, "u1", user.ID)
		require.Equal(t, 1, f.backend.count(auth.RouteMe))
		require.Equal(t, 1, f.backend.count(auth.RouteProfile))
	})

	t.Run("401 refreshes once and retries", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))
		f.backend.handle(auth.RouteRefresh, refreshHandler("refresh-old", map[string]any{"access_token": "access-new"}))
		f.backend.handle(auth.RouteMe, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-new" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "token expired"})
				return
			}
			writeJSON(w, http.StatusOK, ok(profile))
		})

		user, err := f.service.GetCurrentUser(ctx, true)
		require.NoError(t, err)
		require.Equal(t, "u1", user.ID)
		require.Equal(t, 1, f.backend.count(auth.RouteRefresh))
		require.Equal(t, 2, f.backend.count(auth.RouteMe))
		require.Zero(t, f.backend.count(auth.RouteProfile))
	})

	t.Run("401 inside a 200 envelope also refreshes", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))
		f.backend.handle(auth.RouteRefresh, refreshHandler("refresh-old", map[string]any{"access_token": "access-new"}))
		f.backend.handle(auth.RouteMe, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-new" {
				writeJSON(w, http.StatusOK, map[string]any{"code": 401, "msg": "token expired"})
				return
			}
			writeJSON(w, http.StatusOK, ok(profile))
		})

		_, err := f.service.GetCurrentUser(ctx, true)
		require.NoError(t, err)
		require.Equal(t, 1, f.backend.count(auth.RouteRefresh))
	})

	t.Run("second 401 is returned without another refresh", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))
		f.backend.handle(auth.RouteRefresh, refreshHandler("refresh-old", map[string]any{"access_token": "access-new", "refresh_token": "refresh-new"}))
		f.backend.handle(auth.RouteMe, respond(http.StatusUnauthorized, map[string]any{"code": 401, "msg": "nope"}))

		_, err := f.service.GetCurrentUser(ctx, true)
		require.True(t, auth.IsUnauthorized(err))
		require.Equal(t, 1, f.backend.count(auth.RouteRefresh))
		require.Equal(t, 2, f.backend.count(auth.RouteMe))
	})

	t.Run("failed refresh logs out", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))
		f.backend.handle(auth.RouteRefresh, respond(http.StatusUnauthorized, map[string]any{"code": 401, "msg": "expired"}))
		f.backend.handle(auth.RouteMe, respond(http.StatusUnauthorized, map[string]any{"code": 401, "msg": "nope"}))

		_, err := f.service.GetCurrentUser(ctx, true)
		require.ErrorIs(t, err, auth.ErrRefreshFailed)
		require.Equal(t, auth.StateLoggedOut, f.service.State())
		require.Empty(t, f.snapshot(t))
	})
}

func TestService_GetAuthHeaders(t *testing.T) {
	ctx := context.Background()

	t.Run("logged out", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		_, err := f.service.GetAuthHeaders(ctx)
		require.ErrorIs(t, err, auth.ErrNotAuthenticated)
	})

	t.Run("valid token", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))

		headers, err := f.service.GetAuthHeaders(ctx)
		require.NoError(t, err)
		require.Equal(t, "Bearer access-old", headers.Get("Authorization"))
		require.Equal(t, "application/json", headers.Get("Content-Type"))
		require.Zero(t, f.backend.count(auth.RouteRefresh))
	})

	t.Run("expiring within the skew refreshes first", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(10*time.Second)))
		f.backend.handle(auth.RouteRefresh, refreshHandler("refresh-old", map[string]any{"access_token": "access-new", "expires_in": 3600}))

		headers, err := f.service.GetAuthHeaders(ctx)
		require.NoError(t, err)
		require.Equal(t, "Bearer access-new", headers.Get("Authorization"))
		require.Equal(t, 1, f.backend.count(auth.RouteRefresh))
	})

	t.Run("failed refresh fails", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(-time.Hour)))
		f.backend.handle(auth.RouteRefresh, respond(http.StatusBadGateway, map[string]any{"msg": "down"}))

		_, err := f.service.GetAuthHeaders(ctx)
		require.ErrorIs(t, err, auth.ErrRefreshFailed)
		require.False(t, f.service.IsAuthenticated(ctx))
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes and clears", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))
		f.backend.handle(auth.RouteLogout, refreshHandler("refresh-old", map[string]any{}))

		require.NoError(t, f.service.Logout(ctx))
		require.Equal(t, 1, f.backend.count(auth.RouteLogout))
		require.Empty(t, f.snapshot(t))
		require.Equal(t, auth.StateLoggedOut, f.service.State())
	})

	t.Run("backend failure still clears", func(t *testing.T) {
		f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))
		f.backend.handle(auth.RouteLogout, respond(http.StatusInternalServerError, map[string]any{"msg": "boom"}))

		require.NoError(t, f.service.Logout(ctx))
		require.Empty(t, f.snapshot(t))
	})

	t.Run("logged out makes no request", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		require.NoError(t, f.service.Logout(ctx))
		require.Zero(t, f.backend.count(auth.RouteLogout))
	})
}

func TestService_HTTPClient(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, loggedIn(testNow.Add(time.Hour)))
	f.backend.handle("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"auth": r.Header.Get("Authorization")})
	})

	token, err := f.service.TokenSource(ctx).Token()
	require.NoError(t, err)
	require.Equal(t, "access-old", token.AccessToken)
	require.Equal(t, "Bearer", token.TokenType)

	resp, err := f.service.HTTPClient(ctx).Get(f.backend.server.URL + "/api/chat")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Bearer access-old", body["auth"])
}

func TestService_TokenSourceLoggedOut(t *testing.T) {
	f := setupTestFixture(t, nil)
	_, err := f.service.TokenSource(context.Background()).Token()
	require.True(t, errors.Is(err, auth.ErrNotAuthenticated))
}
