package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/sider-auth/internal/config"
	"github.com/jrsteele09/sider-auth/internal/logging"
	"github.com/jrsteele09/sider-auth/server"
	"github.com/jrsteele09/sider-auth/token"
	"github.com/jrsteele09/sider-auth/token/refresh"
	refreshrepofake "github.com/jrsteele09/sider-auth/token/refresh/repofake"
	fakeuserrepo "github.com/jrsteele09/sider-auth/users/repofake"
	"github.com/rs/zerolog/log"
)

const revocationCleanupInterval = 5 * time.Minute

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("Error running server, restarting")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(c.GetEnv(), c.GetLogLevel())
	if c.GetTokenSecret() == "change-me" && !c.IsDev() {
		return errors.New("SIDER_TOKEN_SECRET must be set outside DEV")
	}

	handler, err := newServer(c)
	if err != nil {
		return err
	}

	displayAppname(c.GetAppName())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handler.CleanupRevokedTokens(ctx, revocationCleanupInterval)

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(srv) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func newServer(c config.Config) (*server.Server, error) {
	userRepo := fakeuserrepo.NewFakeUserRepo()
	signer, err := token.NewHMACSigner(c.GetTokenSecret())
	if err != nil {
		return nil, err
	}
	tokens, err := token.New(
		refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), c),
		userRepo,
		signer,
		token.WithAccessTokenExpiry(c.GetAccessTokenExpiry()),
		token.WithIssuer(c.GetAppName()),
	)
	if err != nil {
		return nil, err
	}
	return server.New(c, userRepo, tokens)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
