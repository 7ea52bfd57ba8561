package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/spf13/cobra"

	"github.com/leon-anavi/rvi-sota-client/internal/api"
	"github.com/leon-anavi/rvi-sota-client/internal/config"
	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/httpclient"
	"github.com/leon-anavi/rvi-sota-client/internal/interpreter"
	"github.com/leon-anavi/rvi-sota-client/internal/localgateway"
	"github.com/leon-anavi/rvi-sota-client/internal/observability"
	"github.com/leon-anavi/rvi-sota-client/internal/packagemanager"
	"github.com/leon-anavi/rvi-sota-client/internal/quicutil"
	"github.com/leon-anavi/rvi-sota-client/internal/remotegateway"
	"github.com/leon-anavi/rvi-sota-client/internal/transferstore"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		apiAddr    string
		quicAddr   string
		observAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the OTA client daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, apiAddr, quicAddr, observAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&apiAddr, "api-addr", "127.0.0.1:8080", "REST+SSE API listen address")
	cmd.Flags().StringVar(&quicAddr, "quic-addr", "", "QUIC listen address (overrides config)")
	cmd.Flags().StringVar(&observAddr, "observ-addr", "127.0.0.1:8081", "metrics/health/pprof server address")
	return cmd
}

func runDaemon(configPath, apiAddr, quicAddrFlag, observAddr string) error {
	logger := observability.NewLogger("ota-client", clientVersion, os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker(clientVersion)
	if shutdown, err := observability.InitTracing(context.Background(), "ota-client"); err == nil {
		defer shutdown(context.Background())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal(err, "failed to load config")
	}
	if quicAddrFlag != "" {
		cfg.Client.QUICListenAddr = quicAddrFlag
	}
	logger.Info("ota-client starting")

	if err := os.MkdirAll(cfg.OTA.PackagesDir, 0o755); err != nil {
		logger.Fatal(err, "failed to create packages directory")
	}

	var pkgmgr packagemanager.PackageManager
	if cfg.OTA.PackageManager == "dpkg" {
		pkgmgr = packagemanager.NewDpkg()
	} else {
		pkgmgr = packagemanager.NewFile(filepath.Join(cfg.OTA.PackagesDir, "installed.json"), true)
	}

	client := httpclient.NewReal()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	erx := make(chan datatype.Event, 32)
	cmdTx := make(chan datatype.Command, 32)
	gtx := make(chan interpreter.Global, 32)

	gi := interpreter.NewGlobalInterpreter(cfg, pkgmgr, client, gtx)

	var authenticated atomic.Bool
	publisher := api.NewEventPublisher()

	go gi.Run(ctx, gtx, erx)
	go interpreter.RunCommandInterpreter(ctx, cmdTx, gtx)
	go func() {
		ei := interpreter.EventInterpreter{}
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-erx:
				switch ev.Kind {
				case datatype.EvAuthenticated:
					authenticated.Store(true)
					logger.AuthSucceeded(cfg.Auth.ClientID)
				case datatype.EvNotAuthenticated:
					authenticated.Store(false)
				case datatype.EvError:
					logger.UpdateFailed(string(ev.UpdateId), ev.ErrorText)
				case datatype.EvFoundInstalledPackages:
					logger.Info(fmt.Sprintf("found %d installed packages", len(ev.Packages)))
				}
				publisher.Publish(ev)
				ei.Interpret(ev, cmdTx)
			}
		}
	}()

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		logger.Fatal(err, "failed to generate TLS certificate")
	}
	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		logger.Fatal(err, "failed to create TLS config")
	}

	store := transferstore.NewStore(cfg.OTA.PackagesDir)
	gw := remotegateway.New(store, erx, cfg.Client.EdgeURL, tlsConfig, 0)

	quicListener, err := quic.ListenAddr(cfg.Client.QUICListenAddr, tlsConfig, nil)
	if err != nil {
		logger.Fatal(err, "failed to start QUIC listener")
	}
	defer quicListener.Close()
	logger.Info("QUIC listener started on " + cfg.Client.QUICListenAddr)

	go func() {
		if err := gw.Serve(ctx, quicListener); err != nil && ctx.Err() == nil {
			logger.Error(err, "remote gateway stopped")
		}
	}()

	lgw := localgateway.New(cfg.IPC.SoftwareManager, cfg.IPC.SoftwareManagerPath, cfg.IPC.Timeout)
	lgw.RegisterHandler("initiateDownload", func(args []json.RawMessage) (interface{}, error) {
		var id datatype.UpdateId
		if err := localgateway.DecodeArg(args, 0, &id); err != nil {
			return nil, err
		}
		cmdTx <- datatype.AcceptUpdates([]datatype.UpdateId{id})
		return nil, nil
	})
	lgw.RegisterHandler("updateReport", func(args []json.RawMessage) (interface{}, error) {
		var report datatype.UpdateReport
		if err := localgateway.DecodeArg(args, 0, &report); err != nil {
			return nil, err
		}
		cmdTx <- datatype.ReportUpdate(report)
		return nil, nil
	})
	callbackPath := cfg.IPC.SocketPath + ".cb"
	_ = os.Remove(callbackPath)
	callbackListener, err := net.Listen("unix", callbackPath)
	if err != nil {
		logger.Error(err, "failed to listen for local gateway callbacks")
	} else {
		go func() {
			if err := lgw.Serve(ctx, callbackListener); err != nil && ctx.Err() == nil {
				logger.Error(err, "local gateway callback server stopped")
			}
		}()
	}
	go dialLocalGatewayWithRetry(ctx, lgw, cfg.IPC.SocketPath, logger)

	healthChecker.RegisterCheck("quic_listener", observability.QUICListenerCheck(cfg.Client.QUICListenAddr))
	healthChecker.RegisterCheck("backend", observability.BackendReachableCheck(http.DefaultClient, cfg.OTA.Server))
	healthChecker.RegisterCheck("auth_token", observability.AuthTokenCheck(authenticated.Load))
	healthChecker.RegisterCheck("package_manager", observability.PackageManagerCheck(func() error {
		_, err := pkgmgr.InstalledPackages()
		return err
	}))
	healthChecker.RegisterCheck("transfer_store", observability.TransferStoreCheck(cfg.OTA.PackagesDir))

	go startObservabilityServer(observAddr, metrics, healthChecker, logger)

	apiServer := api.New(pkgmgr, gtx, publisher, authenticated.Load)
	mux := http.NewServeMux()
	apiServer.RegisterHTTP(mux)
	httpServer := &http.Server{Addr: apiAddr, Handler: mux}
	go func() {
		logger.Info("API server listening on " + apiAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "API server error")
		}
	}()

	cmdTx <- datatype.Authenticate(nil)

	logger.Info("ota-client running")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = lgw.Close()

	logger.Info("ota-client stopped")
	return nil
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}

// dialLocalGatewayWithRetry keeps attempting to connect to the
// software-loading manager's IPC socket until ctx is cancelled: the SWM is
// an independent process that may start after the client.
func dialLocalGatewayWithRetry(ctx context.Context, gw *localgateway.Gateway, socketPath string, logger *observability.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		if err := gw.Dial(socketPath); err == nil {
			logger.Info("connected to software-loading manager at " + socketPath)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
