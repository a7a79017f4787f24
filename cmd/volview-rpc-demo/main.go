// Command volview-rpc-demo hosts the RPC server from pkg/rpc behind a
// WebSocket listener, wired up with the illustrative handlers in
// examples/demo. It is a thin collaborator: host/port/verbose flags and a
// graceful shutdown on SIGINT/SIGTERM, nothing more.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kitware/volview-rpc/examples/demo"
	"github.com/kitware/volview-rpc/pkg/config"
	"github.com/kitware/volview-rpc/pkg/imaging"
	"github.com/kitware/volview-rpc/pkg/logging"
	"github.com/kitware/volview-rpc/pkg/rpc"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file (optional, overlays defaults)")
		host       = flag.String("host", "", "bind host (overrides config)")
		port       = flag.Int("port", 0, "bind port (overrides config)")
		verbose    = flag.Bool("verbose", false, "enable verbose (development) logging")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "volview-rpc-demo: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *verbose {
		cfg.Verbose = true
	}

	logging.Configure(cfg.Verbose)
	defer logging.Sync()

	if err := cfg.Validate(); err != nil {
		logging.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	server := rpc.NewServer(cfg,
		rpc.WithSerializers(imaging.Serialize),
		rpc.WithDeserializers(imaging.Deserialize),
	)
	if err := demo.Register(server); err != nil {
		logging.Error("failed to register demo handlers", zap.Error(err))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Handler(),
	}

	go func() {
		logging.Info("volview-rpc-demo listening", zap.String("addr", cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("http server failed", zap.Error(err))
		}
	}()

	waitForShutdown()

	logging.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logging.Error("http shutdown error", zap.Error(err))
	}
	if err := server.Teardown(ctx); err != nil {
		logging.Error("rpc teardown error", zap.Error(err))
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
