package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jrsteele09/sider-auth/auth"
	"github.com/jrsteele09/sider-auth/session"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// AuthService is the part of auth.Service the CLI drives.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Register(ctx context.Context, in auth.RegisterInput) (*auth.LoginResult, error)
	Logout(ctx context.Context) error
	RefreshToken(ctx context.Context) (session.Session, error)
	GetCurrentUser(ctx context.Context, forceRefresh bool) (*session.UserProfile, error)
	GetAuthHeaders(ctx context.Context) (http.Header, error)
	GetTokens(ctx context.Context) (session.Session, error)
}

type AuthCmd struct {
	auth    AuthService
	out     printer
	nowFunc func() time.Time
}

func NewAuthCmd(service AuthService, out printer) AuthCmd {
	return AuthCmd{auth: service, out: out, nowFunc: time.Now}
}

type LoginInput struct {
	Email    string
	Password string
}

type RegisterInput struct {
	Email    string
	Password string
	Username string
	Name     string
}

type WhoamiInput struct {
	Refresh bool
	Output  string
}

type TokenInput struct {
	Headers bool
}

func (a AuthCmd) Login(ctx context.Context, in LoginInput) error {
	result, err := a.auth.Login(ctx, in.Email, in.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	a.out.success("Logged in as %s", describeUser(result.User))
	return nil
}

func (a AuthCmd) Register(ctx context.Context, in RegisterInput) error {
	result, err := a.auth.Register(ctx, auth.RegisterInput{
		Email:    in.Email,
		Password: in.Password,
		Username: in.Username,
		Name:     in.Name,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if result.Session == nil {
		a.out.success("Registered %s", in.Email)
		a.out.info("Run 'sider login' to sign in")
		return nil
	}
	a.out.success("Registered and logged in as %s", describeUser(result.User))
	return nil
}

func (a AuthCmd) Logout(ctx context.Context) error {
	if err := a.auth.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	a.out.success("Logged out")
	return nil
}

func (a AuthCmd) Whoami(ctx context.Context, in WhoamiInput) error {
	if in.Output != "" && in.Output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	user, err := a.auth.GetCurrentUser(ctx, in.Refresh)
	if errors.Is(err, auth.ErrNotAuthenticated) {
		a.out.warning("Not logged in")
		return nil
	}
	if err != nil {
		return err
	}
	if in.Output == "json" {
		return a.out.json(user)
	}

	tokens, err := a.auth.GetTokens(ctx)
	if err != nil {
		return err
	}
	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"ID", orDash(user.ID)})
	rows = append(rows, []string{"Email", orDash(user.Email)})
	rows = append(rows, []string{"Username", orDash(user.Username)})
	rows = append(rows, []string{"Name", orDash(user.Name)})
	rows = append(rows, []string{"Token Expiry", formatExpiry(tokens.Expiry, a.nowFunc())})
	return a.out.table(rows)
}

func (a AuthCmd) Token(ctx context.Context, in TokenInput) error {
	headers, err := a.auth.GetAuthHeaders(ctx)
	if err != nil {
		return err
	}
	if !in.Headers {
		fmt.Fprintln(a.out.out, strings.TrimPrefix(headers.Get("Authorization"), "Bearer "))
		return nil
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.out.out, "%s: %s\n", name, strings.Join(headers.Values(name), ", "))
	}
	return nil
}

func (a AuthCmd) Refresh(ctx context.Context) error {
	tokens, err := a.auth.RefreshToken(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	a.out.success("Token refreshed")
	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Access Token", mask(tokens.AccessToken)})
	rows = append(rows, []string{"Refresh Token", mask(tokens.RefreshToken)})
	rows = append(rows, []string{"Expiry", formatExpiry(tokens.Expiry, a.nowFunc())})
	return a.out.table(rows)
}

func describeUser(user *session.UserProfile) string {
	if user == nil {
		return "unknown user"
	}
	name := user.DisplayName()
	switch {
	case name != "" && user.Email != "":
		return fmt.Sprintf("%s <%s>", name, user.Email)
	case user.Email != "":
		return user.Email
	case name != "":
		return name
	}
	return user.ID
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			a, err := app.authCmd(cmd)
			if err != nil {
				return err
			}
			return a.Login(cmd.Context(), LoginInput{Email: email, Password: password})
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in RegisterInput
			in.Email, _ = cmd.Flags().GetString("email")
			in.Password, _ = cmd.Flags().GetString("password")
			in.Username, _ = cmd.Flags().GetString("username")
			in.Name, _ = cmd.Flags().GetString("name")
			a, err := app.authCmd(cmd)
			if err != nil {
				return err
			}
			return a.Register(cmd.Context(), in)
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().String("username", "", "username")
	cmd.Flags().String("name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.authCmd(cmd)
			if err != nil {
				return err
			}
			return a.Logout(cmd.Context())
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			output, _ := cmd.Flags().GetString("output")
			a, err := app.authCmd(cmd)
			if err != nil {
				return err
			}
			return a.Whoami(cmd.Context(), WhoamiInput{Refresh: refresh, Output: output})
		},
	}
	cmd.Flags().Bool("refresh", false, "fetch the profile from the server instead of the cache")
	cmd.Flags().StringP("output", "o", "", "output format: json")
	return cmd
}

func newTokenCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the access token, refreshing it when needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			headers, _ := cmd.Flags().GetBool("headers")
			a, err := app.authCmd(cmd)
			if err != nil {
				return err
			}
			return a.Token(cmd.Context(), TokenInput{Headers: headers})
		},
	}
	cmd.Flags().Bool("headers", false, "print request headers instead of the raw token")
	return cmd
}

func newRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.authCmd(cmd)
			if err != nil {
				return err
			}
			return a.Refresh(cmd.Context())
		},
	}
}
