package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"guidedconv/agent/internal/api"
	"guidedconv/agent/internal/config"
	"guidedconv/agent/internal/events"
	"guidedconv/agent/internal/health"
	"guidedconv/agent/internal/logging"
	"guidedconv/agent/internal/realtime"
	"guidedconv/agent/internal/sessions"
)

// realtimeService is the gRPC health service name that follows upstream reachability.
const realtimeService = "guidedconv.realtime"

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := sessions.NewMemoryStore(cfg.Sessions.IdleTTL)
	ev := events.NewStore()
	client := realtime.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	h := api.NewHandlers(cfg, st, ev, client, log)
	reaper := sessions.NewReaper(st, cfg.Sessions.ReaperInterval, log.Named("sessions"), h.OnReap)
	log.Info("session store ready", zap.Duration("idle_ttl", st.TTL()), zap.Duration("reap_every", cfg.Sessions.ReaperInterval))

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		cctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		status := health.CheckAll(cctx, cfg)
		if !status.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(status.String()))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.LogMiddleware(log.Named("http"), mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC health endpoint with keepalive for fast death detection
	kap := keepalive.ServerParameters{
		MaxConnectionIdle:     2 * time.Minute,
		MaxConnectionAge:      15 * time.Minute,
		MaxConnectionAgeGrace: 30 * time.Second,
		Time:                  30 * time.Second,
		Timeout:               10 * time.Second,
	}
	kasp := keepalive.EnforcementPolicy{
		MinTime:             10 * time.Second,
		PermitWithoutStream: true,
	}
	gs := grpc.NewServer(grpc.KeepaliveParams(kap), grpc.KeepaliveEnforcementPolicy(kasp))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(realtimeService, healthpb.HealthCheckResponse_NOT_SERVING)

	gl, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc health starting", zap.String("addr", gl.Addr().String()))
		return gs.Serve(gl)
	})
	g.Go(func() error {
		reaper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		watchUpstream(gctx, cfg, hs, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received; stopping server")
		hs.Shutdown()
		// close live sessions before draining HTTP so relays unblock
		for _, e := range st.List() {
			if _, err := st.Delete(e.ID); err == nil {
				_ = e.Session.Close()
			}
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		gs.GracefulStop()
		return nil
	})
	return g.Wait()
}

// watchUpstream keeps the gRPC health status of the realtime service in line with
// the upstream API.
func watchUpstream(ctx context.Context, cfg config.Config, hs *grpchealth.Server, log *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status := health.CheckAll(cctx, cfg)
		cancel()
		if status.OK {
			hs.SetServingStatus(realtimeService, healthpb.HealthCheckResponse_SERVING)
		} else {
			log.Warn("upstream unhealthy", zap.String("status", status.String()))
			hs.SetServingStatus(realtimeService, healthpb.HealthCheckResponse_NOT_SERVING)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
