package interpreter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leon-anavi/rvi-sota-client/internal/config"
	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/httpclient"
	"github.com/leon-anavi/rvi-sota-client/internal/packagemanager"
)

func newTestGlobalInterpreter(t *testing.T, replies []string, succeed bool) (*GlobalInterpreter, chan Global) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Device.UUID = "device-1"
	cfg.OTA.PackagesDir = t.TempDir()

	pkgmgr := packagemanager.NewFile(filepath.Join(t.TempDir(), "list.json"), succeed)
	client := httpclient.NewTest(replies...)
	loopback := make(chan Global, 16)

	gi := NewGlobalInterpreter(cfg, pkgmgr, client, loopback)
	gi.token = &datatype.AccessToken{AccessToken: "preauthenticated"}
	return gi, loopback
}

func drain(t *testing.T, gi *GlobalInterpreter, cmd datatype.Command) []datatype.Event {
	t.Helper()
	etx := make(chan datatype.Event, 64)
	gi.Interpret(context.Background(), Global{Command: cmd}, etx)
	close(etx)
	var events []datatype.Event
	for e := range etx {
		events = append(events, e)
	}
	return events
}

func TestAlreadyAuthenticated(t *testing.T) {
	gi, _ := newTestGlobalInterpreter(t, nil, true)
	events := drain(t, gi, datatype.Authenticate(nil))
	if len(events) != 1 || events[0].Kind != datatype.EvOk {
		t.Fatalf("got %+v", events)
	}
}

func TestAcceptUpdatesSuccess(t *testing.T) {
	replies := make([]string, 10)
	for i := range replies {
		replies[i] = "[]"
	}
	gi, _ := newTestGlobalInterpreter(t, replies, true)

	events := drain(t, gi, datatype.AcceptUpdates([]datatype.UpdateId{"1", "2"}))

	want := []struct {
		kind  datatype.EventKind
		id    datatype.UpdateId
		state datatype.UpdateState
	}{
		{datatype.EvUpdateStateChanged, "1", datatype.UpdateStateDownloading},
		{datatype.EvUpdateStateChanged, "1", datatype.UpdateStateInstalling},
		{datatype.EvUpdateStateChanged, "1", datatype.UpdateStateInstalled},
		{datatype.EvUpdateStateChanged, "2", datatype.UpdateStateDownloading},
		{datatype.EvUpdateStateChanged, "2", datatype.UpdateStateInstalling},
		{datatype.EvUpdateStateChanged, "2", datatype.UpdateStateInstalled},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Kind != w.kind || events[i].UpdateId != w.id || events[i].UpdateState != w.state {
			t.Errorf("event %d: got %+v, want %+v", i, events[i], w)
		}
	}
}

func TestAcceptUpdatesFailureDiscardsIntermediateEvents(t *testing.T) {
	replies := make([]string, 10)
	for i := range replies {
		replies[i] = "[]"
	}
	gi, _ := newTestGlobalInterpreter(t, replies, false)

	events := drain(t, gi, datatype.AcceptUpdates([]datatype.UpdateId{"1"}))

	if len(events) != 1 || events[0].Kind != datatype.EvError {
		t.Fatalf("expected a single Error event, got %+v", events)
	}
}

func TestGetPendingUpdatesTriggersLoopback(t *testing.T) {
	body := `[{"requestId":"b","installPos":1,"packageId":{"name":"p","version":"1"},"createdAt":"now"},` +
		`{"requestId":"a","installPos":0,"packageId":{"name":"p","version":"1"},"createdAt":"now"}]`
	gi, loopback := newTestGlobalInterpreter(t, []string{body}, true)

	events := drain(t, gi, datatype.GetPendingUpdates())
	if len(events) != 1 || events[0].Kind != datatype.EvOk {
		t.Fatalf("got %+v", events)
	}

	select {
	case global := <-loopback:
		if global.Command.Kind != datatype.CmdAcceptUpdates {
			t.Fatalf("expected AcceptUpdates loopback, got %s", global.Command.Kind)
		}
		if len(global.Command.UpdateIds) != 2 || global.Command.UpdateIds[0] != "a" || global.Command.UpdateIds[1] != "b" {
			t.Errorf("expected ids sorted by installPos [a b], got %v", global.Command.UpdateIds)
		}
	default:
		t.Fatal("expected a loopback command")
	}
}

func TestUnauthenticatedRejectsNonAuthCommands(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Device.UUID = "device-1"
	cfg.Auth.ClientID = "client"
	cfg.Auth.ClientSecret = "secret"
	pkgmgr := packagemanager.NewFile(filepath.Join(t.TempDir(), "list.json"), true)
	gi := NewGlobalInterpreter(cfg, pkgmgr, httpclient.NewTest(), make(chan Global, 1))

	events := drain(t, gi, datatype.AcceptUpdates([]datatype.UpdateId{"1"}))
	if len(events) != 1 || events[0].Kind != datatype.EvNotAuthenticated {
		t.Fatalf("got %+v", events)
	}
}

func TestAuthenticateMalformedTokenResponse(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Device.UUID = "device-1"
	cfg.Auth.ClientID = "client"
	cfg.Auth.ClientSecret = "secret"
	pkgmgr := packagemanager.NewFile(filepath.Join(t.TempDir(), "list.json"), true)

	cases := map[string]string{
		"empty body":           "",
		"not JSON":             "not json",
		"missing access_token": `{"token_type":"bearer"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			gi := NewGlobalInterpreter(cfg, pkgmgr, httpclient.NewTest(body), make(chan Global, 1))
			events := drain(t, gi, datatype.Authenticate(nil))
			if len(events) != 1 || events[0].Kind != datatype.EvError {
				t.Fatalf("got %+v, want a single Error event", events)
			}
			if gi.token != nil {
				t.Error("token must not be set after a failed authentication")
			}
		})
	}
}

func TestEventInterpreterReauthenticates(t *testing.T) {
	ctx := make(chan datatype.Command, 1)
	EventInterpreter{}.Interpret(datatype.NotAuthenticated(), ctx)

	select {
	case cmd := <-ctx:
		if cmd.Kind != datatype.CmdAuthenticate {
			t.Fatalf("got %s, want Authenticate", cmd.Kind)
		}
	default:
		t.Fatal("expected a re-authenticate command")
	}
}
