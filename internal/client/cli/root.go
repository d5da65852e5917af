package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
)

func (a *App) getStatus() string {
	s := ""
	if a.credentials != nil {
		s = a.credentials.ClientID + " "
	}
	if a.runningAgent() != nil {
		s += "running "
	}
	if a.Mode != "" {
		s = s + string(a.Mode)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root runs the interactive shell until the user exits. The agent, if
// started, is stopped on return.
func (a *App) Root(ctx context.Context) {
	defer a.Close()

	log.Println("Welcome to the print client (type 'help' for commands)")

	if err := a.Unlock(ctx); err != nil {
		log.Printf("credentials locked: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)
	}()

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}
