// Package api exposes a REST + SSE surface onto the running OTA client
// daemon: current auth/uptime status, accepting a batch of updates,
// listing installed packages, and a live event stream.
//
// Grounded in the teacher's daemon/api/server/server.go (JSON request/
// response shapes, writeJSON/writeJSONError helpers, the SSEHandler
// subscribe/unsubscribe pattern). The teacher's gateway.go additionally
// wires a gRPC server and grpc-gateway reverse proxy in front of the same
// handlers; neither grpc nor grpc-gateway is wired here; see DESIGN.md.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/interpreter"
	"github.com/leon-anavi/rvi-sota-client/internal/packagemanager"
)

// EventPublisher fans a single stream of Events out to any number of SSE
// subscribers, each with its own buffered channel, mirroring the
// teacher's service.EventPublisher/Subscribe/Unsubscribe shape.
type EventPublisher struct {
	mu   sync.Mutex
	subs map[string]chan datatype.Event
}

// NewEventPublisher creates an empty publisher.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{subs: make(map[string]chan datatype.Event)}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The caller must Unsubscribe when done to avoid leaking the channel.
func (p *EventPublisher) Subscribe() (string, <-chan datatype.Event) {
	id := uuid.NewString()
	ch := make(chan datatype.Event, 32)
	p.mu.Lock()
	p.subs[id] = ch
	p.mu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (p *EventPublisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(ch)
	}
}

// Publish broadcasts ev to every current subscriber. A subscriber whose
// buffer is full is skipped rather than blocking the publisher.
func (p *EventPublisher) Publish(ev datatype.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Server wires the REST + SSE surface to the running daemon's
// collaborators: the package manager for "list installed", a Global
// channel for "accept", and the event publisher for "events".
type Server struct {
	Pkgmgr    packagemanager.PackageManager
	GlobalTx  chan<- interpreter.Global
	Events    *EventPublisher
	startedAt time.Time

	hasToken func() bool
}

// New wires a Server. hasToken reports whether the daemon currently
// holds a valid access token, used by the status endpoint.
func New(pkgmgr packagemanager.PackageManager, globalTx chan<- interpreter.Global, events *EventPublisher, hasToken func() bool) *Server {
	return &Server{
		Pkgmgr:    pkgmgr,
		GlobalTx:  globalTx,
		Events:    events,
		startedAt: time.Now(),
		hasToken:  hasToken,
	}
}

// RegisterHTTP registers every REST + SSE route on mux.
func (s *Server) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/updates/accept", s.handleAccept)
	mux.HandleFunc("/api/v1/updates/installed", s.handleInstalled)
	mux.Handle("/api/v1/events", s.SSEHandler())
}

// StatusResponse reports the daemon's current liveness.
type StatusResponse struct {
	Authenticated bool  `json:"authenticated"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Authenticated: s.hasToken != nil && s.hasToken(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// AcceptRequest names the updates to accept for install.
type AcceptRequest struct {
	UpdateIds []datatype.UpdateId `json:"update_ids"`
}

// AcceptResponse echoes the terminal Event the accepted batch produced.
type AcceptResponse struct {
	Event string `json:"event"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body")
		return
	}
	if len(req.UpdateIds) == 0 {
		writeJSONError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "update_ids must be non-empty")
		return
	}

	reply := make(chan datatype.Event, 1)
	s.GlobalTx <- interpreter.Global{
		Command: datatype.AcceptUpdates(req.UpdateIds),
		ReplyTo: reply,
	}
	ev := <-reply
	writeJSON(w, http.StatusOK, AcceptResponse{Event: ev.Kind.String()})
}

// InstalledResponse lists currently installed packages.
type InstalledResponse struct {
	Packages []datatype.Package `json:"packages"`
}

func (s *Server) handleInstalled(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.Pkgmgr.InstalledPackages()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, InstalledResponse{Packages: pkgs})
}

// SSEHandler streams Events as they are published, filterable by
// update_id via a query parameter.
func (s *Server) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		filter := r.URL.Query().Get("update_id")
		id, ch := s.Events.Subscribe()
		defer s.Events.Unsubscribe(id)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if filter != "" && !strings.EqualFold(string(ev.UpdateId), filter) {
					continue
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				_, _ = w.Write([]byte("data: "))
				_, _ = w.Write(data)
				_, _ = w.Write([]byte("\n\n"))
				flusher.Flush()
			}
		}
	}
}

type jsonError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, jsonError{Code: code, Message: msg})
}
