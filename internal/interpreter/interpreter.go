// Package interpreter implements the Event -> Command -> Global -> Event
// pipeline: events observed by the system are translated into commands,
// commands are wrapped into a Global envelope (with an optional reply
// channel), and the GlobalInterpreter executes one against the backend,
// always producing at least one terminal Event.
//
// Grounded in original_source/src/interpreter.rs.
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/leon-anavi/rvi-sota-client/internal/config"
	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/httpclient"
	"github.com/leon-anavi/rvi-sota-client/internal/otaerr"
	"github.com/leon-anavi/rvi-sota-client/internal/otaservice"
	"github.com/leon-anavi/rvi-sota-client/internal/packagemanager"
)

// Global wraps a Command with an optional reply channel: the caller that
// submitted the command can block on ReplyTo for the terminal Event.
type Global struct {
	Command datatype.Command
	ReplyTo chan<- datatype.Event
}

// EventInterpreter reacts to externally observed Events by issuing new
// Commands, e.g. re-authenticating after a NotAuthenticated event.
type EventInterpreter struct{}

func (EventInterpreter) Interpret(event datatype.Event, ctx chan<- datatype.Command) {
	switch event.Kind {
	case datatype.EvNotAuthenticated:
		ctx <- datatype.Authenticate(nil)
	case datatype.EvFoundInstalledPackages:
		// The daemon's event fan-out loop logs this one; nothing to dispatch.
	default:
	}
}

// CommandInterpreter wraps a bare Command into a Global envelope with no
// reply channel, the shape the GlobalInterpreter's main loop expects.
type CommandInterpreter struct{}

func (CommandInterpreter) Interpret(cmd datatype.Command, gtx chan<- Global) {
	gtx <- Global{Command: cmd}
}

// GlobalInterpreter executes one Global at a time against the backend: it
// holds the current authentication state and the collaborators needed to
// fulfil any Command.
type GlobalInterpreter struct {
	Config     *config.Config
	Pkgmgr     packagemanager.PackageManager
	Client     httpclient.Client
	RealClient *httpclient.Real // nil when Client.IsTesting()
	LoopbackTx chan<- Global
	Shutdown   func()

	token *datatype.AccessToken
}

// NewGlobalInterpreter wires a GlobalInterpreter starting in the
// unauthenticated state (unless cfg.Auth is empty, meaning no
// authentication is configured at all).
func NewGlobalInterpreter(cfg *config.Config, pkgmgr packagemanager.PackageManager, client httpclient.Client, loopback chan<- Global) *GlobalInterpreter {
	real, _ := client.(*httpclient.Real)
	return &GlobalInterpreter{
		Config:     cfg,
		Pkgmgr:     pkgmgr,
		Client:     client,
		RealClient: real,
		LoopbackTx: loopback,
		Shutdown:   defaultShutdown,
	}
}

func (gi *GlobalInterpreter) authConfigured() bool {
	return gi.Config.Auth.ClientID != ""
}

// Interpret executes global.Command and always sends exactly one terminal
// Event to etx (and to global.ReplyTo, if present): Authenticated/Ok on
// success paths that emit no other event, NotAuthenticated on an
// authorization failure, or Error otherwise. Intermediate events
// (UpdateStateChanged, FoundInstalledPackages, ...) are only delivered to
// etx when the whole command completes without error — a mid-command
// failure discards them, matching the original's channel semantics.
func (gi *GlobalInterpreter) Interpret(ctx context.Context, global Global, etx chan<- datatype.Event) {
	var (
		events []datatype.Event
		err    error
	)
	if gi.token != nil || !gi.authConfigured() {
		events, err = gi.authenticated(ctx, global.Command)
	} else {
		events, err = gi.unauthenticated(ctx, global.Command)
	}

	var response datatype.Event
	switch {
	case err == nil:
		for _, ev := range events {
			etx <- ev
			response = ev
		}
	case otaerr.Is(err, otaerr.KindAuthorization):
		response = datatype.NotAuthenticated()
		etx <- response
	default:
		response = datatype.ErrorEvent(otaerr.Display(err))
		etx <- response
	}

	if global.ReplyTo != nil {
		global.ReplyTo <- response
	}
}

func (gi *GlobalInterpreter) service() *otaservice.Service {
	return otaservice.New(gi.Config, gi.Client, gi.Pkgmgr)
}

func (gi *GlobalInterpreter) authenticated(ctx context.Context, cmd datatype.Command) ([]datatype.Event, error) {
	svc := gi.service()
	var events []datatype.Event
	emit := func(e datatype.Event) { events = append(events, e) }

	switch cmd.Kind {
	case datatype.CmdAcceptUpdates:
		for _, id := range cmd.UpdateIds {
			emit(datatype.UpdateStateChanged(id, datatype.UpdateStateDownloading))
			report := svc.InstallUpdate(ctx, id, emit)
			if err := svc.SendReport(ctx, report); err != nil {
				return nil, err
			}
			if err := svc.ReportInstalledPackages(ctx); err != nil {
				return nil, err
			}
		}
		return events, nil

	case datatype.CmdAuthenticate:
		return []datatype.Event{datatype.Ok()}, nil

	case datatype.CmdGetPendingUpdates:
		updates, err := svc.PendingUpdates(ctx)
		if err != nil {
			return nil, err
		}
		if len(updates) > 0 {
			sort.SliceStable(updates, func(i, j int) bool { return updates[i].InstallPos < updates[j].InstallPos })
			ids := make([]datatype.UpdateId, len(updates))
			for i, u := range updates {
				ids[i] = u.RequestId
			}
			gi.LoopbackTx <- Global{Command: datatype.AcceptUpdates(ids)}
		}
		return []datatype.Event{datatype.Ok()}, nil

	case datatype.CmdListInstalledPackages:
		pkgs, err := gi.Pkgmgr.InstalledPackages()
		if err != nil {
			return nil, err
		}
		return []datatype.Event{datatype.FoundInstalledPackages(pkgs)}, nil

	case datatype.CmdUpdateInstalledPackages:
		if err := svc.ReportInstalledPackages(ctx); err != nil {
			return nil, err
		}
		return []datatype.Event{datatype.Ok()}, nil

	case datatype.CmdUpdateReport, datatype.CmdReportInstalledSoftware:
		// Accepted no-ops in the authenticated path; no backend call exists
		// for these yet.
		return []datatype.Event{datatype.Ok()}, nil

	case datatype.CmdShutdown:
		gi.Shutdown()
		return []datatype.Event{}, nil

	default:
		return nil, otaerr.Parse(fmt.Sprintf("unknown command %s", cmd.Kind), nil)
	}
}

func (gi *GlobalInterpreter) unauthenticated(ctx context.Context, cmd datatype.Command) ([]datatype.Event, error) {
	switch cmd.Kind {
	case datatype.CmdAuthenticate:
		if gi.Config.Auth.ClientID == "" {
			return nil, otaerr.Authorization("no auth configured", nil)
		}
		gi.setClient(datatype.CredentialsAuth(gi.Config.Auth.ClientID, gi.Config.Auth.ClientSecret))

		tok, err := gi.fetchToken(ctx)
		if err != nil {
			return nil, err
		}
		gi.setClient(datatype.TokenAuth(*tok))
		gi.token = tok
		return []datatype.Event{datatype.Authenticated()}, nil

	case datatype.CmdShutdown:
		gi.Shutdown()
		return []datatype.Event{}, nil

	default:
		return []datatype.Event{datatype.NotAuthenticated()}, nil
	}
}

// fetchToken POSTs to the auth server's /token endpoint and decodes the
// response by hand: the backend's scope field is a JSON array, which
// golang.org/x/oauth2's own token-response decoder cannot parse, so only
// the request's authorization (via gi.Client, already Basic/client-auth
// decorated by setClient) is delegated to the shared Client capability.
func (gi *GlobalInterpreter) fetchToken(ctx context.Context) (*datatype.AccessToken, error) {
	data, err := gi.Client.Send(ctx, httpclient.Request{
		Method: httpclient.Post,
		URL:    gi.Config.Auth.Server + "/token",
	})
	if err != nil {
		return nil, err
	}
	var tok datatype.AccessToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, otaerr.Parse("failed to decode JSON", err)
	}
	if tok.AccessToken == "" {
		return nil, otaerr.Parse("failed to decode JSON", fmt.Errorf("missing field: access_token"))
	}
	return &tok, nil
}

// setClient swaps in an authorization-decorated client, unless the
// current client is a scripted Test client (IsTesting()), matching
// AuthClient::new only being installed over a real HttpClient.
func (gi *GlobalInterpreter) setClient(auth datatype.Auth) {
	if gi.Client.IsTesting() {
		return
	}
	if gi.RealClient == nil {
		return
	}
	if auth.Kind == datatype.AuthToken {
		gi.RealClient.Authorize(context.Background(), auth.Token)
	}
	gi.Client = gi.RealClient
}

func defaultShutdown() {
	os.Exit(0)
}

// Run drains gtx, interpreting one Global at a time and publishing the
// resulting Events to etx, until ctx is cancelled. Commands fan in from
// both the external command channel and gi's own loopback (for
// GetPendingUpdates -> AcceptUpdates chaining).
func (gi *GlobalInterpreter) Run(ctx context.Context, gtx <-chan Global, etx chan<- datatype.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case global := <-gtx:
			gi.Interpret(ctx, global, etx)
		}
	}
}

// RunEventInterpreter feeds erx into EventInterpreter, publishing any
// resulting Command onto cmdTx, until ctx is cancelled.
func RunEventInterpreter(ctx context.Context, erx <-chan datatype.Event, cmdTx chan<- datatype.Command) {
	ei := EventInterpreter{}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-erx:
			ei.Interpret(ev, cmdTx)
		}
	}
}

// RunCommandInterpreter feeds crx into CommandInterpreter, publishing the
// wrapped Global onto gtx, until ctx is cancelled.
func RunCommandInterpreter(ctx context.Context, crx <-chan datatype.Command, gtx chan<- Global) {
	ci := CommandInterpreter{}
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-crx:
			ci.Interpret(cmd, gtx)
		}
	}
}
