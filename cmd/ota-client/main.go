// Command ota-client is the OTA software update client daemon and its
// companion CLI: "run" wires the full event/command/global interpreter
// pipeline together with the remote gateway, local gateway, and REST+SSE
// API surface and blocks on an OS signal; the other subcommands are thin
// REST clients against a running daemon's API, plus a standalone
// "authenticate" check.
//
// Grounded in the teacher's daemon/main.go wiring order (observability
// init, config load, TLS cert generation, QUIC listener, rate-limited
// accept loop, API server start, signal-based graceful shutdown), adapted
// to a cobra command tree per LeonYoah-SeaTunnelX's CLI convention.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const clientVersion = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "ota-client",
		Short: "OTA software update client",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newAuthenticateCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newAcceptCmd())
	root.AddCommand(newListInstalledCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
