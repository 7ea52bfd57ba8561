// Package localgateway implements the cross-process IPC to the
// software-loading manager (SWM): outbound calls announcing updates and
// completed downloads, and an inbound server the SWM calls back into to
// kick off a download or report an install result.
//
// Grounded in original_source/src/{genivi/swm.rs,sota_dbus/sender.rs,
// swm/swlm.rs}'s method names and call shapes. No D-Bus binding exists
// anywhere in the reference pack, so the transport below is a
// length-prefixed JSON method-call channel over a Unix domain socket
// instead of the original's D-Bus session bus — see DESIGN.md.
package localgateway

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/otaerr"
)

// MethodCall is one framed IPC message: a method name plus its
// positionally-encoded arguments.
type MethodCall struct {
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
}

// MethodReply carries a call's result or error back to the caller.
type MethodReply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Handler processes one inbound method call's positional arguments and
// returns a JSON-encodable result.
type Handler func(args []json.RawMessage) (interface{}, error)

// Gateway is the local IPC endpoint: Dial opens the outbound connection
// to the SWM, Serve accepts the SWM's inbound calls.
type Gateway struct {
	// SoftwareManager and SoftwareManagerPath identify the well-known bus
	// name / object path configured for the target software-loading
	// manager (spec.md §3's ipc.* keys).
	SoftwareManager     string
	SoftwareManagerPath string
	Timeout             time.Duration

	mu   sync.Mutex
	conn net.Conn

	handlers map[string]Handler
}

// New wires a Gateway with no outbound connection yet; call Dial before
// issuing outbound calls.
func New(softwareManager, softwareManagerPath string, timeout time.Duration) *Gateway {
	return &Gateway{
		SoftwareManager:     softwareManager,
		SoftwareManagerPath: softwareManagerPath,
		Timeout:             timeout,
		handlers:            make(map[string]Handler),
	}
}

// Dial opens the outbound connection to the software-loading manager at
// addr (a Unix domain socket path).
func (g *Gateway) Dial(addr string) error {
	conn, err := net.Dial("unix", addr)
	if err != nil {
		return otaerr.IPC(addr, err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	return nil
}

// Close releases the outbound connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

// --- Outbound methods: genivi/swm.rs's send_update_available,
// send_download_complete, send_get_installed_software. ---

// UpdateAvailable announces a pending update to the software-loading
// manager.
func (g *Gateway) UpdateAvailable(ctx context.Context, updateID datatype.UpdateId, signature, description string, requestConfirmation bool) error {
	_, err := g.call(ctx, "update_available", updateID, signature, description, requestConfirmation)
	return err
}

// DownloadComplete announces a finished package download.
func (g *Gateway) DownloadComplete(ctx context.Context, updateImage, signature string) error {
	_, err := g.call(ctx, "download_complete", updateImage, signature)
	return err
}

// GetInstalledSoftware requests the current installed-software inventory,
// synchronously, bounded by g.Timeout.
func (g *Gateway) GetInstalledSoftware(ctx context.Context, includePackages, includeModuleFirmware bool) (datatype.InstalledSoftware, error) {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	data, err := g.call(ctx, "get_installed_software", includePackages, includeModuleFirmware)
	if err != nil {
		return datatype.InstalledSoftware{}, err
	}
	var sw datatype.InstalledSoftware
	if err := json.Unmarshal(data, &sw); err != nil {
		return datatype.InstalledSoftware{}, otaerr.JSON("get_installed_software reply", err)
	}
	return sw, nil
}

func (g *Gateway) call(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return nil, otaerr.IPC(method, fmt.Errorf("not connected to %s", g.SoftwareManager))
	}

	encodedArgs := make([]json.RawMessage, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, otaerr.JSON(method, err)
		}
		encodedArgs[i] = data
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, MethodCall{Method: method, Args: encodedArgs}); err != nil {
		return nil, otaerr.IPC(method, err)
	}
	var reply MethodReply
	if err := readFrame(conn, &reply); err != nil {
		return nil, otaerr.IPC(method, err)
	}
	if reply.Error != "" {
		return nil, otaerr.IPC(method, fmt.Errorf("%s", reply.Error))
	}
	return reply.Result, nil
}

// --- Inbound methods: the SWM's initiateDownload / updateReport calls
// back into this process, dispatched by method name. ---

// RegisterHandler installs the handler for an inbound method name.
func (g *Gateway) RegisterHandler(method string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[method] = h
}

// Serve accepts inbound connections on listener, one goroutine per
// connection, until ctx is cancelled. Missing or type-mismatched
// arguments yield a protocol-level MethodReply.Error rather than
// crashing the gateway.
func (g *Gateway) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go g.handleConn(conn)
	}
}

func (g *Gateway) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		var call MethodCall
		if err := readFrame(conn, &call); err != nil {
			return
		}

		g.mu.Lock()
		handler, ok := g.handlers[call.Method]
		g.mu.Unlock()

		var reply MethodReply
		if !ok {
			reply.Error = fmt.Sprintf("unknown method %q", call.Method)
		} else if result, err := handler(call.Args); err != nil {
			reply.Error = err.Error()
		} else if result != nil {
			data, err := json.Marshal(result)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Result = data
			}
		}

		if err := writeFrame(conn, reply); err != nil {
			return
		}
	}
}

// DecodeArg decodes the i-th positional argument into out, returning an
// IPC error (not a panic) on a missing or type-mismatched argument.
func DecodeArg(args []json.RawMessage, i int, out interface{}) error {
	if i >= len(args) {
		return otaerr.IPC("decode arg", fmt.Errorf("missing argument %d", i))
	}
	if err := json.Unmarshal(args[i], out); err != nil {
		return otaerr.IPC("decode arg", fmt.Errorf("argument %d: %w", i, err))
	}
	return nil
}

// --- Framing: 4-byte big-endian length, JSON body. ---

func writeFrame(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readFrame(r io.Reader, v interface{}) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
