package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// sessionTokenSource serves tokens from the stored session, refreshing
// through the Service when the access token has expired.
type sessionTokenSource struct {
	ctx     context.Context
	service *Service
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	current, err := ts.service.validSession(ts.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       current.Expiry,
	}, nil
}

// TokenSource adapts the stored session to an oauth2.TokenSource.
func (s *Service) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, service: s}
}

// HTTPClient returns a client that sets the bearer header on every request.
func (s *Service) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, s.TokenSource(ctx))
}
