// Package cli provides the print client's command-line front end.
//
// It wires configuration, local storage, the CUPS printer tooling, the job
// scheduler and the relay WebSocket session. Two entry points exist:
//
//   - App.RunAgent runs the print agent headless until its context ends.
//   - App.Root starts an interactive REPL for managing credentials and
//     printer preferences, starting the agent and inspecting queues.
//
// Credentials are sealed in the local database with a passphrase taken
// from PRINTRELAY_PASSPHRASE or prompted for on the terminal.
package cli
