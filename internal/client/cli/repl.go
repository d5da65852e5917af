package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isUnlocked() bool
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Printers(ctx context.Context) error
	Prefs(ctx context.Context, args []string) error
	Queue(ctx context.Context) error
	Cancel(ctx context.Context, args []string) error
	Ping(ctx context.Context) error
}

// runREPL starts a simple read–eval–print loop for the print client.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Commands
//
//	help                     show available commands
//	login [id token]         store client credentials
//	logout                   remove stored credentials
//	start | stop             run or stop the print agent
//	printers                 show local printers
//	prefs [list|set|rm|import]
//	queue                    show per-printer queues
//	cancel <job-id>          drop a waiting job
//	ping                     probe the relay health endpoint
//	exit | quit              leave the program
//
// Errors returned by command handlers are ignored here; handlers report
// their own errors.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("pr> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isUnlocked() {
				printlnFn("Available commands: start, stop, printers, prefs, queue, cancel, ping, login, logout, exit")
			} else {
				printlnFn("Available commands: login, start, printers, prefs, ping, exit")
			}

		case "login":
			_ = a.Login(ctx, args)

		case "logout":
			_ = a.Logout(ctx)

		case "start", "run":
			_ = a.Start(ctx)

		case "stop":
			_ = a.Stop(ctx)

		case "p", "printers":
			_ = a.Printers(ctx)

		case "prefs":
			_ = a.Prefs(ctx, args)

		case "q", "queue":
			_ = a.Queue(ctx)

		case "cancel":
			_ = a.Cancel(ctx, args)

		case "ping":
			_ = a.Ping(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
