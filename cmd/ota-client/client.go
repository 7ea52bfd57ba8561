package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leon-anavi/rvi-sota-client/internal/api"
	"github.com/leon-anavi/rvi-sota-client/internal/config"
	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/httpclient"
	"github.com/leon-anavi/rvi-sota-client/internal/interpreter"
	"github.com/leon-anavi/rvi-sota-client/internal/packagemanager"
)

// newAuthenticateCmd runs a single authentication attempt against the
// configured backend and prints the resulting event, without starting the
// daemon's pipeline. client_secret is prompted for (masked) if not present
// in the config.
func newAuthenticateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "authenticate",
		Short: "Authenticate against the backend and print the resulting event",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.ClientSecret == "" {
				secret, err := promptSecret()
				if err != nil {
					return err
				}
				cfg.Auth.ClientSecret = secret
			}

			pkgmgr := packagemanager.NewFile(filepath.Join(cfg.OTA.PackagesDir, "installed.json"), true)
			client := httpclient.NewReal()
			gtx := make(chan interpreter.Global, 1)
			gi := interpreter.NewGlobalInterpreter(cfg, pkgmgr, client, gtx)

			reply := make(chan datatype.Event, 1)
			etx := make(chan datatype.Event, 1)
			gi.Interpret(context.Background(), interpreter.Global{
				Command: datatype.Authenticate(nil),
				ReplyTo: reply,
			}, etx)

			ev := <-reply
			fmt.Println(ev.Kind.String())
			if ev.Kind == datatype.EvError {
				return fmt.Errorf("%s", ev.ErrorText)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	return cmd
}

// promptSecret reads a client secret from the terminal without echoing it.
func promptSecret() (string, error) {
	fmt.Fprint(os.Stderr, "Client secret: ")
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading client secret: %w", err)
	}
	return string(data), nil
}

func newStatusCmd() *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the running daemon's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.StatusResponse
			if err := apiGet(apiAddr, "/api/v1/status", &resp); err != nil {
				return err
			}
			fmt.Printf("authenticated: %t\nuptime_seconds: %d\n", resp.Authenticated, resp.UptimeSeconds)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api-addr", "127.0.0.1:8080", "daemon API address")
	return cmd
}

func newAcceptCmd() *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "accept [update-id...]",
		Short: "Accept one or more pending updates for install",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.AcceptRequest{UpdateIds: args}
			var resp api.AcceptResponse
			if err := apiPost(apiAddr, "/api/v1/updates/accept", req, &resp); err != nil {
				return err
			}
			fmt.Println(resp.Event)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api-addr", "127.0.0.1:8080", "daemon API address")
	return cmd
}

func newListInstalledCmd() *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "list-installed",
		Short: "List the packages currently installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.InstalledResponse
			if err := apiGet(apiAddr, "/api/v1/updates/installed", &resp); err != nil {
				return err
			}
			for _, pkg := range resp.Packages {
				fmt.Printf("%s\t%s\n", pkg.Name, pkg.Version)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api-addr", "127.0.0.1:8080", "daemon API address")
	return cmd
}

var apiHTTPClient = &http.Client{Timeout: 10 * time.Second}

func apiGet(addr, path string, out interface{}) error {
	resp, err := apiHTTPClient.Get(baseURL(addr) + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func apiPost(addr, path string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := apiHTTPClient.Post(baseURL(addr)+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
