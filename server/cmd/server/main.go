package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/docsync/docsync/pkg/discovery"
	"github.com/docsync/docsync/pkg/logging"
	"github.com/docsync/docsync/server/internal/api"
	"github.com/docsync/docsync/server/internal/config"
	"github.com/docsync/docsync/server/internal/health"
	"github.com/docsync/docsync/server/internal/metrics"
	"github.com/docsync/docsync/server/internal/relay"
	"github.com/docsync/docsync/server/internal/store"
	"github.com/docsync/docsync/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docsync-server: load config: %v\n", err)
		os.Exit(1)
	}
	s := cfg.Server

	logger, level, err := logging.New(os.Stdout, logging.Options{Level: s.Log.Level, Format: s.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "docsync-server: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("config loaded",
		"config", *configPath,
		"http_port", s.HTTPPort,
		"grpc_port", s.GRPCPort,
		"ws_path", s.WSPath,
		"storage", s.Storage.Backend,
		"relay", s.Relay.Enabled,
		"discovery", s.Discovery.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Log level follows config edits; everything else needs a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			if err := logging.SetLevel(level, next.Server.Log.Level); err != nil {
				slog.Warn("config reload: log level unchanged", "err", err)
				return
			}
			slog.Info("config reload: log level applied", "level", level.Level())
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	st, err := store.Open(ctx, s.Storage, s.Limits.MaxContentBytes)
	if err != nil {
		slog.Error("failed to open document store", "backend", s.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	mc := metrics.New()
	reg := ws.NewRegistry(st, mc)
	router := ws.NewRouter(reg, st, mc)
	hub := ws.NewHub(router, ws.Options{
		SendBuffer:      s.Limits.SendBuffer,
		MaxMessageBytes: s.Limits.MaxMessageBytes,
	})
	go hub.Run(ctx)

	mc.SetGauges(func() metrics.Gauges {
		g := metrics.Gauges{Connections: hub.Count()}
		for _, rs := range reg.Stats() {
			g.Rooms++
			g.Members += rs.Members
			g.Cursors += rs.Cursors
		}
		return g
	})

	// Optional cross-node relay over Redis pub/sub.
	if s.Relay.Enabled {
		rl := relay.New(s.Relay, reg.Deliver)
		if err := rl.Ping(ctx); err != nil {
			slog.Error("relay unavailable", "err", err)
			os.Exit(1)
		}
		defer rl.Close()
		reg.SetPublisher(rl)
		go func() {
			if err := rl.Run(ctx); err != nil {
				slog.Error("relay stopped", "err", err)
			}
		}()
	}

	// gRPC health service on its own port.
	var hs *health.Server
	if s.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.GRPCPort))
		if err != nil {
			slog.Error("failed to listen on gRPC port", "port", s.GRPCPort, "err", err)
			os.Exit(1)
		}
		hs = health.New()
		go func() {
			slog.Info("gRPC health listening", "port", s.GRPCPort)
			if err := hs.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health stopped", "err", err)
			}
		}()
	}

	// Combined HTTP server: WebSocket endpoint, REST API and /metrics.
	r := mux.NewRouter()
	r.Handle(s.WSPath, hub)
	r.Handle("/metrics", mc).Methods(http.MethodGet)
	r.PathPrefix("/api/").Handler(api.New(reg, st))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", s.HTTPPort, "ws_path", s.WSPath, "public_url", s.PublicURL)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	if s.Discovery.Enabled {
		go func() {
			err := discovery.Advertise(ctx, discovery.Advertisement{
				Instance: s.Discovery.Instance,
				Service:  s.Discovery.Service,
				Domain:   s.Discovery.Domain,
				Port:     s.HTTPPort,
				Path:     s.WSPath,
			})
			if err != nil {
				slog.Warn("mDNS advertisement failed", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("docsync-server shutting down")

	if hs != nil {
		hs.Shutdown()
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
