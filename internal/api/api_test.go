package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/interpreter"
	"github.com/leon-anavi/rvi-sota-client/internal/packagemanager"
)

func TestHandleStatus(t *testing.T) {
	s := New(packagemanager.NewFile("", true), make(chan interpreter.Global, 1), NewEventPublisher(), func() bool { return true })
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Authenticated {
		t.Error("expected authenticated true")
	}
}

func TestHandleAccept(t *testing.T) {
	globalTx := make(chan interpreter.Global, 1)
	s := New(packagemanager.NewFile("", true), globalTx, NewEventPublisher(), func() bool { return false })
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)

	go func() {
		global := <-globalTx
		global.ReplyTo <- datatype.Ok()
	}()

	body := strings.NewReader(`{"update_ids":["u1","u2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/updates/accept", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp AcceptResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Event != datatype.EvOk.String() {
		t.Errorf("got event %q, want %q", resp.Event, datatype.EvOk.String())
	}
}

func TestHandleAcceptRejectsEmptyBody(t *testing.T) {
	s := New(packagemanager.NewFile("", true), make(chan interpreter.Global, 1), NewEventPublisher(), func() bool { return false })
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/updates/accept", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestHandleInstalled(t *testing.T) {
	s := New(packagemanager.NewFile("", true), make(chan interpreter.Global, 1), NewEventPublisher(), func() bool { return false })
	mux := http.NewServeMux()
	s.RegisterHTTP(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/updates/installed", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp InstalledResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Packages == nil {
		t.Error("expected a (possibly empty) packages slice, got nil")
	}
}

func TestEventPublisherSubscribeUnsubscribe(t *testing.T) {
	p := NewEventPublisher()
	id, ch := p.Subscribe()

	p.Publish(datatype.UpdateStateChanged("u1", datatype.UpdateStateInstalling))

	select {
	case ev := <-ch:
		if ev.UpdateId != "u1" {
			t.Errorf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}

	p.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}
