package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nestmate/chatsync/internal/daemon"
	"github.com/nestmate/chatsync/internal/session"
	"go.uber.org/fx"
)

func main() {
	userFlag := flag.String("user", "", "user id to sync (overrides config default)")
	flag.Parse()

	userID := session.ResolveUser(*userFlag)
	if userID == "" {
		fmt.Fprintln(os.Stderr, "error: no user given and no default_user configured")
		os.Exit(1)
	}
	if err := session.ValidateUser(userID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{UserID: userID}),
	)

	app.Run()
}
