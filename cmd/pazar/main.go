package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kaanbt/pazar/internal/app"
	"github.com/kaanbt/pazar/internal/session"
	"go.uber.org/fx"
)

func main() {
	_ = godotenv.Load()

	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	flag.Parse()

	sessionOverride := *sessionFlag
	if sessionOverride == "" {
		sessionOverride = os.Getenv("PAZAR_SESSION")
	}
	serverURL := *serverFlag
	if serverURL == "" {
		serverURL = os.Getenv("PAZAR_SERVER_URL")
	}

	sessionName := session.Resolve(sessionOverride)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{SessionName: sessionName, ServerURL: serverURL}),
		fx.NopLogger,
	).Run()
}
