package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-manager/authtest"
	"github.com/jrsteele09/go-session-manager/backend/httpbackend"
	"github.com/jrsteele09/go-session-manager/internal/config"
	"github.com/jrsteele09/go-session-manager/session"
)

func main() {
	_ = godotenv.Load()
	if err := run(); err != nil {
		log.Fatalf("Error running demo: %s\n", err)
	}
	log.Printf("Demo stopped\n")
}

// run boots an in-process auth server, drives a session manager against it,
// and logs every transition until interrupted. With the default short token
// TTL a scheduled refresh fires every few seconds.
func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	authServer := authtest.NewServer(authtest.WithAccessTokenTTL(c.GetAccessTokenTTL()))
	defer authServer.Close()
	authServer.AddUser(c.GetDemoEmail(), c.GetDemoPassword(), "Demo User")
	logger.Info().Str("url", authServer.URL()).Msg("auth server listening")

	manager, err := session.NewManager(
		httpbackend.New(authServer.URL(), httpbackend.WithLogger(logger)),
		session.WithLogger(logger),
		session.WithRefreshThreshold(c.GetRefreshThreshold()),
		session.WithOnSessionChange(func(tokens *session.TokenPair) {
			if tokens == nil {
				logger.Info().Msg("session ended")
				return
			}
			logger.Info().Time("accessExpiresAt", tokens.AccessExpiresAt).Msg("new tokens issued")
		}),
	)
	if err != nil {
		return fmt.Errorf("session.NewManager: %w", err)
	}
	defer manager.Dispose()

	unsubscribe := manager.Subscribe(func(state session.State) {
		logger.Info().Stringer("status", state.Status).Msg("session state changed")
	})
	defer unsubscribe()

	if err := manager.Login(context.Background(), session.Credentials{
		Email:    c.GetDemoEmail(),
		Password: c.GetDemoPassword(),
	}); err != nil {
		return fmt.Errorf("manager.Login: %w", err)
	}

	logger.Info().Msg("logged in, press Ctrl+C to log out and exit")
	waitForStopSignal()

	if err := manager.Logout(context.Background()); err != nil {
		return fmt.Errorf("manager.Logout: %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
