// Command rvi-edge is a minimal standalone broker that forwards QUIC
// streams between a backend-facing caller and a vehicle client's remote
// gateway, the way the original RVI core broker sat between a backend and
// an rvi-sota-client. A caller opens a control stream, writes the target
// vehicle's address (and, if auth-mode is "token", a bearer token), and on
// "OK" the broker forwards every subsequent stream bidirectionally until
// either side closes.
//
// Adapted from the teacher's relay/main.go: same control-stream handshake
// and per-stream forwarding shape, with the connection-admission rate
// limiter actually enforced (the teacher computed one and discarded it)
// and structured logging/metrics/health in place of log.Printf.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/leon-anavi/rvi-sota-client/internal/observability"
	"github.com/leon-anavi/rvi-sota-client/internal/quicutil"
	"github.com/leon-anavi/rvi-sota-client/internal/ratelimit"
	"github.com/leon-anavi/rvi-sota-client/internal/validation"
)

// EdgeConfig holds the broker's runtime configuration.
type EdgeConfig struct {
	ListenAddr       string
	MaxConnections   int
	StreamBufferSize int
	AuthMode         string
}

// EdgeService accepts vehicle-edge connections and forwards their streams
// to the target address each connection's control stream names.
type EdgeService struct {
	config            *EdgeConfig
	logger            *observability.Logger
	metrics           *observability.Metrics
	admission         *ratelimit.TokenBucket
	activeConnections int64
	totalConnections  int64
	bytesForwarded    int64
}

func NewEdgeService(cfg *EdgeConfig, logger *observability.Logger, metrics *observability.Metrics) *EdgeService {
	return &EdgeService{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		admission: ratelimit.NewTokenBucket(200, 400),
	}
}

func (es *EdgeService) Start(ctx context.Context) error {
	tlsConfig, err := generateEdgeTLSConfig()
	if err != nil {
		return fmt.Errorf("generating edge TLS config: %w", err)
	}

	listener, err := quic.ListenAddr(es.config.ListenAddr, tlsConfig, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("starting QUIC listener: %w", err)
	}
	defer listener.Close()

	es.logger.Info(fmt.Sprintf("rvi-edge listening on %s (max connections %d, auth mode %s)",
		es.config.ListenAddr, es.config.MaxConnections, es.config.AuthMode))

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		if !es.admission.Allow(1) {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				es.logger.Info("rvi-edge shutting down")
				return nil
			}
			es.logger.Error(err, "failed to accept connection")
			continue
		}

		active := atomic.LoadInt64(&es.activeConnections)
		if active >= int64(es.config.MaxConnections) {
			conn.CloseWithError(1, "connection limit exceeded")
			continue
		}

		atomic.AddInt64(&es.activeConnections, 1)
		atomic.AddInt64(&es.totalConnections, 1)
		es.logger.ConnectionEstablished(conn.RemoteAddr().String(), "")

		go es.handleConnection(ctx, conn)
	}
}

func (es *EdgeService) handleConnection(ctx context.Context, sourceConn *quic.Conn) {
	defer func() {
		atomic.AddInt64(&es.activeConnections, -1)
		sourceConn.CloseWithError(0, "edge closing")
	}()

	controlStream, err := sourceConn.AcceptStream(ctx)
	if err != nil {
		es.logger.ConnectionFailed(sourceConn.RemoteAddr().String(), err)
		return
	}
	_ = controlStream.SetReadDeadline(time.Now().Add(5 * time.Second))

	targetAddrBuf := make([]byte, 256)
	n, err := controlStream.Read(targetAddrBuf)
	if err != nil {
		es.logger.ConnectionFailed(sourceConn.RemoteAddr().String(), err)
		return
	}
	targetAddr := string(targetAddrBuf[:n])

	if es.config.AuthMode != "none" {
		tokenBuf := make([]byte, 256)
		n, err := controlStream.Read(tokenBuf)
		if err != nil {
			es.logger.ConnectionFailed(targetAddr, err)
			return
		}
		if !validToken(string(tokenBuf[:n])) {
			_, _ = controlStream.Write([]byte("AUTH_FAILED"))
			return
		}
	}

	targetTLSConfig := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"ota-rvi-edge"}}
	targetConn, err := quic.DialAddr(ctx, targetAddr, targetTLSConfig, &quic.Config{MaxIdleTimeout: 30 * time.Second})
	if err != nil {
		es.logger.ConnectionFailed(targetAddr, err)
		_, _ = controlStream.Write([]byte("TARGET_UNREACHABLE"))
		return
	}
	defer targetConn.CloseWithError(0, "edge closing")

	_ = controlStream.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := controlStream.Write([]byte("OK")); err != nil {
		es.logger.ConnectionFailed(targetAddr, err)
		return
	}

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); es.forwardStreams(connCtx, sourceConn, targetConn) }()
	go func() { defer wg.Done(); es.forwardStreams(connCtx, targetConn, sourceConn) }()
	wg.Wait()
}

func (es *EdgeService) forwardStreams(ctx context.Context, source, target *quic.Conn) {
	for {
		stream, err := source.AcceptStream(ctx)
		if err != nil {
			return
		}
		go es.forwardStream(ctx, stream, target)
	}
}

func (es *EdgeService) forwardStream(ctx context.Context, sourceStream *quic.Stream, targetConn *quic.Conn) {
	defer sourceStream.Close()

	targetStream, err := targetConn.OpenStreamSync(ctx)
	if err != nil {
		return
	}
	defer targetStream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := make([]byte, es.config.StreamBufferSize)
		n, _ := io.CopyBuffer(targetStream, sourceStream, buf)
		atomic.AddInt64(&es.bytesForwarded, n)
	}()
	go func() {
		defer wg.Done()
		buf := make([]byte, es.config.StreamBufferSize)
		n, _ := io.CopyBuffer(sourceStream, targetStream, buf)
		atomic.AddInt64(&es.bytesForwarded, n)
	}()
	wg.Wait()
}

func validToken(token string) bool { return len(token) > 10 }

func generateEdgeTLSConfig() (*tls.Config, error) {
	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		return nil, err
	}
	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	tlsConfig.NextProtos = []string{"ota-rvi-edge"}
	return tlsConfig, nil
}

func (es *EdgeService) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":             "healthy",
		"active_connections": atomic.LoadInt64(&es.activeConnections),
		"max_connections":    es.config.MaxConnections,
	})
}

func (es *EdgeService) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"active_connections": atomic.LoadInt64(&es.activeConnections),
		"total_connections":  atomic.LoadInt64(&es.totalConnections),
		"bytes_forwarded":    atomic.LoadInt64(&es.bytesForwarded),
	})
}

func (es *EdgeService) startObservabilityServer(addr string, metrics *observability.Metrics) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", es.handleHealth)
	mux.HandleFunc("/stats", es.handleStats)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	es.logger.Info("rvi-edge observability server listening on " + addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		es.logger.Error(err, "observability server error")
	}
}

func main() {
	listen := flag.String("listen", ":4434", "QUIC listen address")
	observAddr := flag.String("observ-addr", ":8083", "health/metrics/pprof server address")
	maxConn := flag.Int("max-connections", 1000, "maximum concurrent connections")
	authMode := flag.String("auth-mode", "none", "authentication mode (none, token)")
	flag.Parse()

	logger := observability.NewLogger("rvi-edge", clientVersion, os.Stdout)
	metrics := observability.NewMetrics()

	if shutdown, err := observability.InitTracing(context.Background(), "rvi-edge"); err == nil {
		defer shutdown(context.Background())
	}

	if err := validation.ValidateAddr(*listen); err != nil {
		logger.Fatal(err, "invalid listen address")
	}
	if err := validation.ValidateRangeInt(*maxConn, 1, 100000); err != nil {
		logger.Fatal(err, "invalid max-connections")
	}

	cfg := &EdgeConfig{
		ListenAddr:       *listen,
		MaxConnections:   *maxConn,
		StreamBufferSize: 65536,
		AuthMode:         *authMode,
	}
	service := NewEdgeService(cfg, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	go service.startObservabilityServer(*observAddr, metrics)

	if err := service.Start(ctx); err != nil {
		logger.Fatal(err, "rvi-edge service error")
	}
	logger.Info("rvi-edge stopped")
}

const clientVersion = "0.1.0"
