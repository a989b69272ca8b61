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

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	global "PRelay/global"
	"PRelay/global/config"
	"PRelay/logger"
	mid "PRelay/middleware"
	"PRelay/service/chat"
	"PRelay/service/chat/handlers"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Error("relay exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	configDir := pflag.StringP("config", "c", "config", "directory holding config.yaml")
	pflag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		return err
	}
	global.ConfigAll(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := global.ConfigBus(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	gw := global.ConfigIdentity(cfg)

	relay := global.ConfigRelay(cfg, b, gw)
	handlers.RegisterDefaults(relay.Disp())
	if err := relay.Start(ctx); err != nil {
		return err
	}

	hs := health.NewServer()
	gs, err := serveGRPC(cfg.Server.GrpcAddr, hs)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(cfg, relay),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", cfg.Server.Addr), zap.String("ws_path", cfg.Server.WSPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()
	go watchBus(ctx, relay, hs)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-httpErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	hs.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown; the relay closes them
	_ = srv.Shutdown(sctx)
	relay.Close(shutdownTimeout)
	if gs != nil {
		gs.GracefulStop()
	}
	return nil
}

func newRouter(cfg *config.AppConfig, relay *chat.Server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), mid.Manager().Use())

	mid.GET(r, cfg.Server.WSPath, relay.HandleWS, mid.RouteOpt{IsAuth: cfg.Server.RequireToken})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, global.Success(gin.H{"sessions": relay.Sessions(), "users": relay.Registry().Len()}))
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := relay.Ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, global.Fail(err))
			return
		}
		c.JSON(http.StatusOK, global.Success(nil))
	})
	return r
}

func serveGRPC(addr string, hs *health.Server) (*grpc.Server, error) {
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	go func() {
		logger.Info("[gRPC] listening", zap.String("addr", addr))
		if err := gs.Serve(lis); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()
	return gs, nil
}

// watchBus mirrors bus reachability into the grpc health status.
func watchBus(ctx context.Context, relay *chat.Server, hs *health.Server) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status := healthpb.HealthCheckResponse_SERVING
		if err := relay.Ready(pctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		cancel()
		if status != last {
			logger.Info("health status", zap.String("status", status.String()))
			hs.SetServingStatus("", status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
