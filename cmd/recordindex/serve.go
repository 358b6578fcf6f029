package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/recordindex/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var grpcPort, httpPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the RecordIndex gRPC service and observability endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				if cmd.Flags().Changed("port") {
					a.cfg.GrpcPort = grpcPort
				}
				if cmd.Flags().Changed("http-port") {
					a.cfg.HTTPPort = httpPort
				}
				if err := a.cfg.Validate(); err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().IntVar(&grpcPort, "port", 0, "gRPC port (overrides grpc_port)")
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "observability port (overrides http_port)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	a.log.LogServerStart(a.cfg.GrpcPort, a.cfg.DBPath)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.GrpcPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := server.NewServer(a.kv, a.repo, server.Options{
		DefaultCaching: a.cfg.Scan.DefaultCaching,
		Log:            a.log,
		Metrics:        a.metrics,
	})
	grpcServer := server.NewGRPCServer(srv, server.GRPCOptions{
		RateLimit:  a.cfg.Scan.RateLimit,
		Burst:      a.cfg.Scan.Burst,
		Reflection: true,
		Log:        a.log,
		Metrics:    a.metrics,
	})
	obs := server.NewObservabilityServer(a.cfg.HTTPPort, a.registry, a.repo.Ready, a.log)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.LogServerReady(a.cfg.GrpcPort)
		return grpcServer.Serve(lis)
	})
	g.Go(obs.Start)
	g.Go(func() error {
		stopUptime := make(chan struct{})
		go a.metrics.RunUptime(stopUptime)
		defer close(stopUptime)

		// Build the virtual field registry eagerly so /ready reflects it
		if _, err := a.repo.VirtualFields(ctx); err != nil {
			a.log.Warn("virtual field registry not built yet").Err(err).Send()
		}
		<-ctx.Done()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.LogServerShutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return obs.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
