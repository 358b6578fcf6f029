// Interceptors and the HTTP server for metrics, health, and profiling
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/internal/metrics"
)

// observe records the metrics and the log line of one finished call
func observe(m *metrics.Metrics, log *logger.Logger, method string, call func() error) error {
	if m != nil {
		m.GrpcRequestsInFlight.Inc()
		defer m.GrpcRequestsInFlight.Dec()
	}

	start := time.Now()
	err := call()
	duration := time.Since(start)

	m.RecordGrpcRequest(method, statusLabel(err), duration)
	log.LogGrpcRequest(method, duration, err)
	return err
}

// GrpcMetricsInterceptor records metrics and logs for unary calls
func GrpcMetricsInterceptor(m *metrics.Metrics, log *logger.Logger) grpc.UnaryServerInterceptor {
	log = logger.OrNop(log)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var resp any
		err := observe(m, log, info.FullMethod, func() (err error) {
			resp, err = handler(ctx, req)
			return err
		})
		return resp, err
	}
}

// StreamMetricsInterceptor records metrics and logs for server streams
func StreamMetricsInterceptor(m *metrics.Metrics, log *logger.Logger) grpc.StreamServerInterceptor {
	log = logger.OrNop(log)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return observe(m, log, info.FullMethod, func() error {
			return handler(srv, ss)
		})
	}
}

// RateLimitInterceptor rejects streams beyond limit per second with ResourceExhausted.
// A limit of zero or less disables throttling.
func RateLimitInterceptor(limit float64, burst int, m *metrics.Metrics) grpc.StreamServerInterceptor {
	if limit <= 0 {
		return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			return handler(srv, ss)
		}
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !limiter.Allow() {
			m.RecordThrottled()
			return status.Errorf(codes.ResourceExhausted, "%s: scan rate limit exceeded", info.FullMethod)
		}
		return handler(srv, ss)
	}
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	return status.Code(err).String()
}

// GRPCOptions configures NewGRPCServer
type GRPCOptions struct {
	RateLimit  float64
	Burst      int
	Reflection bool // register the reflection service for grpcurl
	Log        *logger.Logger
	Metrics    *metrics.Metrics
}

// NewGRPCServer creates a gRPC server with the interceptors installed and srv registered
func NewGRPCServer(srv RecordIndexServer, opts GRPCOptions) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(GrpcMetricsInterceptor(opts.Metrics, opts.Log)),
		grpc.ChainStreamInterceptor(
			StreamMetricsInterceptor(opts.Metrics, opts.Log),
			RateLimitInterceptor(opts.RateLimit, opts.Burst, opts.Metrics),
		),
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
	)
	RegisterRecordIndexServer(s, srv)
	if opts.Reflection {
		reflection.Register(s)
	}
	return s
}

// ObservabilityServer provides HTTP endpoints for metrics and profiling
type ObservabilityServer struct {
	server *http.Server
	log    *logger.Logger
}

// NewObservabilityServer creates a new HTTP server for observability. ready reports
// whether the service can answer scans; nil means always ready.
func NewObservabilityServer(port int, gatherer prometheus.Gatherer, ready func() bool, log *logger.Logger) *ObservabilityServer {
	return &ObservabilityServer{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      observabilityMux(gatherer, ready),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: logger.OrNop(log),
	}
}

func observabilityMux(gatherer prometheus.Gatherer, ready func() bool) *http.ServeMux {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "recordindex"})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Start starts the observability HTTP server
func (o *ObservabilityServer) Start() error {
	o.log.Info("Starting observability server").
		Str("addr", o.server.Addr).
		Str("metrics", fmt.Sprintf("http://%s/metrics", o.server.Addr)).
		Str("health", fmt.Sprintf("http://%s/health", o.server.Addr)).
		Str("pprof", fmt.Sprintf("http://%s/debug/pprof/", o.server.Addr)).
		Send()

	if err := o.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("observability server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the observability server
func (o *ObservabilityServer) Shutdown(ctx context.Context) error {
	o.log.Info("Shutting down observability server").Send()
	return o.server.Shutdown(ctx)
}
