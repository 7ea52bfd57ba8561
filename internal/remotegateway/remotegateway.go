// Package remotegateway exposes the peer RPC surface that receives update
// notifications and package chunks over QUIC, and issues the outbound
// peer calls the rest of the system uses to announce downloads, push
// reports, and publish the installed-software inventory.
//
// Grounded in the teacher's daemon/transport/{quic_connection,
// control_stream,chunk_receiver}.go (QUIC connection wrapper, the
// length-prefixed framed-message idiom) and
// original_source/src/{genivi/start.rs,handler/chunk.rs,remote/upstream.rs}
// for the service semantics (notify/start/chunk/finish/report/abort).
package remotegateway

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/zeebo/blake3"

	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/otaerr"
	"github.com/leon-anavi/rvi-sota-client/internal/ratelimit"
	"github.com/leon-anavi/rvi-sota-client/internal/transferstore"
)

// ServiceType tags a framed message's RPC service.
type ServiceType uint8

const (
	SvcNotify ServiceType = iota + 1
	SvcStart
	SvcChunk
	SvcFinish
	SvcReport
	SvcAbort
	SvcStartDownload
	SvcUpdateReport
	SvcInstalledSoftware
	SvcAck
	SvcError
)

// ErrChecksumMismatch is returned by finish when the reassembled package's
// blake3 digest does not match the checksum given at start.
var ErrChecksumMismatch = errors.New("package checksum mismatch")

// NotifyPayload carries the backend's pending-update list, forwarded by
// the edge broker to announce new work.
type NotifyPayload struct {
	Updates []datatype.PendingUpdateRequest `json:"updates"`
}

// StartPayload opens a new chunked transfer.
type StartPayload struct {
	PackageID   string `json:"package_id"`
	ChunksCount int64  `json:"chunkscount"`
	Checksum    string `json:"checksum"`
}

// StartAck carries the endpoint subsequent chunk/finish calls should
// target; this gateway answers with its own service name since all RPCs
// share one stream-oriented connection.
type StartAck struct {
	AckEndpoint string `json:"ack_endpoint"`
}

// ChunkPayload is one base64-encoded chunk of a package transfer.
type ChunkPayload struct {
	PackageID string `json:"package_id"`
	Index     int64  `json:"index"`
	Bytes     string `json:"bytes"`
}

// ChunkAck reports the set of chunk indices received so far, used by the
// sender to decide what to retransmit.
type ChunkAck struct {
	Chunks []int64 `json:"chunks"`
}

// FinishPayload closes a transfer.
type FinishPayload struct {
	PackageID string `json:"package_id"`
	Signature string `json:"signature"`
}

// AbortPayload cancels an in-flight transfer.
type AbortPayload struct {
	PackageID string `json:"package_id"`
}

// ErrorPayload carries a failed RPC's message back to the caller.
type ErrorPayload struct {
	Message string `json:"message"`
}

// defaultChunkSize is the chunk size New uses when given 0 (as
// cmd/ota-client does). The start payload only gives a chunk count, so the
// transfer's TotalSize is computed as ChunksCount * Gateway.ChunkSize; the
// sender must use the same chunk size.
const defaultChunkSize = 1 << 16 // 64 KiB

// Gateway serves inbound peer RPCs and issues outbound ones, backed by a
// transferstore.Store for chunk reassembly.
type Gateway struct {
	Store     *transferstore.Store
	ChunkSize int64
	Events    chan<- datatype.Event
	Admission *ratelimit.TokenBucket

	// AckAddr is the peer address of the configured ack service that the
	// outbound calls are sent to. Chunk/finish acknowledgements are not
	// sent there: they are written back as the reply on the inbound stream.
	AckAddr   string
	TLSConfig *tls.Config

	mu        sync.Mutex
	checksums map[string]string
}

// New wires a Gateway. chunkSize of 0 uses defaultChunkSize.
func New(store *transferstore.Store, events chan<- datatype.Event, ackAddr string, tlsConfig *tls.Config, chunkSize int64) *Gateway {
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	return &Gateway{
		Store:     store,
		ChunkSize: chunkSize,
		Events:    events,
		Admission: ratelimit.NewTokenBucket(50, 50),
		AckAddr:   ackAddr,
		TLSConfig: tlsConfig,
		checksums: make(map[string]string),
	}
}

// Serve accepts peer connections on listener until ctx is cancelled, each
// connection handled on its own goroutine and each inbound stream on a
// further goroutine of its own, matching the "each inbound service
// invocation runs on its own worker" concurrency note.
func (g *Gateway) Serve(ctx context.Context, listener *quic.Listener) error {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !g.Admission.Allow(1) {
			conn.CloseWithError(1, "connection admission rate exceeded")
			continue
		}
		go g.handleConnection(ctx, conn)
	}
}

func (g *Gateway) handleConnection(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go g.handleStream(stream)
	}
}

func (g *Gateway) handleStream(stream *quic.Stream) {
	defer stream.Close()

	svc, payload, err := receiveFrame(stream)
	if err != nil {
		return
	}

	reply, err := g.dispatch(svc, payload)
	if err != nil {
		_ = sendFrame(stream, SvcError, ErrorPayload{Message: err.Error()})
		return
	}
	_ = sendFrame(stream, SvcAck, reply)
}

func (g *Gateway) dispatch(svc ServiceType, payload []byte) (interface{}, error) {
	switch svc {
	case SvcNotify:
		var p NotifyPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, otaerr.JSON("notify", err)
		}
		if g.Events != nil {
			for _, u := range p.Updates {
				g.Events <- datatype.UpdateAvailable(u.RequestId, "", "")
			}
		}
		return struct{}{}, nil

	case SvcStart:
		var p StartPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, otaerr.JSON("start", err)
		}
		totalSize := p.ChunksCount * g.ChunkSize
		if err := g.Store.Start(p.PackageID, totalSize, g.ChunkSize); err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.checksums[p.PackageID] = p.Checksum
		g.mu.Unlock()
		return StartAck{AckEndpoint: "chunk"}, nil

	case SvcChunk:
		var p ChunkPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, otaerr.JSON("chunk", err)
		}
		if err := g.Store.WriteChunk(p.PackageID, p.Bytes, p.Index); err != nil {
			return nil, err
		}
		chunks, err := g.Store.TransferredChunks(p.PackageID)
		if err != nil {
			return nil, err
		}
		return ChunkAck{Chunks: chunks}, nil

	case SvcFinish:
		var p FinishPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, otaerr.JSON("finish", err)
		}
		path, err := g.Store.Finish(p.PackageID)
		if err != nil {
			return nil, err
		}
		if err := g.verifyChecksum(p.PackageID, path); err != nil {
			return nil, err
		}
		if g.Events != nil {
			g.Events <- datatype.DownloadComplete(p.PackageID, path, p.Signature)
		}
		return struct{}{}, nil

	case SvcReport:
		if g.Events != nil {
			g.Events <- datatype.GetInstalledSoftware()
		}
		return struct{}{}, nil

	case SvcAbort:
		var p AbortPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, otaerr.JSON("abort", err)
		}
		if err := g.Store.Abort(p.PackageID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	default:
		return nil, fmt.Errorf("unknown service %d", svc)
	}
}

// verifyChecksum compares the reassembled package's blake3 digest against
// the checksum given at start, per the DOMAIN STACK's blake3 wiring.
func (g *Gateway) verifyChecksum(packageID, path string) error {
	g.mu.Lock()
	expected := g.checksums[packageID]
	delete(g.checksums, packageID)
	g.mu.Unlock()
	if expected == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return otaerr.IO(path, err)
	}
	sum := blake3.Sum256(data)
	computed := base64.StdEncoding.EncodeToString(sum[:])
	if computed != expected {
		return ErrChecksumMismatch
	}
	return nil
}

// --- Outbound peer calls ---

// SendStartDownload announces that the client is about to start
// downloading update updateID.
func (g *Gateway) SendStartDownload(ctx context.Context, updateID datatype.UpdateId) error {
	_, err := g.call(ctx, SvcStartDownload, struct {
		UpdateId datatype.UpdateId `json:"update_id"`
	}{updateID})
	return err
}

// SendUpdateReport pushes a completed UpdateReport to the ack service.
func (g *Gateway) SendUpdateReport(ctx context.Context, report datatype.UpdateReport) error {
	_, err := g.call(ctx, SvcUpdateReport, report)
	return err
}

// SendInstalledSoftware publishes the current installed-software
// inventory to the ack service.
func (g *Gateway) SendInstalledSoftware(ctx context.Context, sw datatype.InstalledSoftware) error {
	_, err := g.call(ctx, SvcInstalledSoftware, sw)
	return err
}

// call dials g.AckAddr, sends one framed RPC, and returns the ack
// payload's raw bytes. On network error it returns the error unmodified
// and does not retry; retrying is the coordinator's decision.
func (g *Gateway) call(ctx context.Context, svc ServiceType, payload interface{}) ([]byte, error) {
	conn, err := quic.DialAddr(ctx, g.AckAddr, g.TLSConfig, nil)
	if err != nil {
		return nil, err
	}
	defer conn.CloseWithError(0, "call complete")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := sendFrame(stream, svc, payload); err != nil {
		return nil, err
	}

	replyType, data, err := receiveFrame(stream)
	if err != nil {
		return nil, err
	}
	if replyType == SvcError {
		var e ErrorPayload
		_ = json.Unmarshal(data, &e)
		return nil, errors.New(e.Message)
	}
	return data, nil
}

// --- Wire framing: 1-byte service type, 4-byte big-endian length, JSON
// body. Adapted from the teacher's ControlStream.sendControlMessage /
// receiveControlMessage.

func sendFrame(w io.Writer, svc ServiceType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, svc); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func receiveFrame(r io.Reader) (ServiceType, []byte, error) {
	var svc ServiceType
	if err := binary.Read(r, binary.BigEndian, &svc); err != nil {
		return 0, nil, err
	}
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}
	return svc, data, nil
}
