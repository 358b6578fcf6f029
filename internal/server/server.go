// Package server implements the gRPC RecordIndex service
package server

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/recordindex/internal/logger"
	"github.com/nainya/recordindex/internal/metrics"
	"github.com/nainya/recordindex/pkg/index"
	"github.com/nainya/recordindex/pkg/repository"
	"github.com/nainya/recordindex/pkg/scan"
	"github.com/nainya/recordindex/pkg/schema"
	"github.com/nainya/recordindex/pkg/storage"
	"github.com/nainya/recordindex/pkg/virtualfield"
	"github.com/nainya/recordindex/pkg/wire"
)

// QueryIndex request members
const (
	KeyIndex  = "index"
	KeyValues = "values"
	KeyScan   = "scan"
)

// Options configures a Server
type Options struct {
	DefaultCaching int // applied to scan documents that do not set caching
	Log            *logger.Logger
	Metrics        *metrics.Metrics
}

// Server implements RecordIndexServer
type Server struct {
	repo           *repository.Repository
	catalog        *index.Catalog
	exec           *index.Executor
	defaultCaching int
	log            *logger.Logger
	metrics        *metrics.Metrics
}

var _ RecordIndexServer = (*Server)(nil)

// NewServer creates the service over an open store
func NewServer(kv *storage.KV, repo *repository.Repository, opts Options) *Server {
	log := logger.OrNop(opts.Log)
	return &Server{
		repo:           repo,
		catalog:        index.NewCatalog(kv),
		exec:           &index.Executor{KV: kv, Log: log, Metrics: opts.Metrics},
		defaultCaching: opts.DefaultCaching,
		log:            log,
		metrics:        opts.Metrics,
	}
}

// Catalog returns the index catalog the server resolves index names against
func (s *Server) Catalog() *index.Catalog { return s.catalog }

// ========== Scans ==========

func (s *Server) ScanRecords(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()

	spec, err := s.scanSpec(req)
	if err != nil {
		return toStatus(err)
	}

	records, err := s.repo.Scan(ctx, spec)
	if err != nil {
		return toStatus(err)
	}
	defer records.Close()

	for {
		rec, ok, err := records.Next(ctx)
		if err != nil {
			return toStatus(err)
		}
		if !ok {
			return nil
		}
		msg, err := recordStruct(rec)
		if err != nil {
			return status.Errorf(codes.Internal, "encode record %s: %v", rec.ID, err)
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
}

// QueryIndex streams raw target keys. The scan bounds and caching hints apply;
// filter and projection need records and are left to ScanRecords-style callers.
func (s *Server) QueryIndex(req *structpb.Struct, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ctx := stream.Context()

	name := req.GetFields()[KeyIndex].GetStringValue()
	if name == "" {
		return status.Error(codes.InvalidArgument, "index is required")
	}
	def, err := s.catalog.Get(name)
	if err != nil {
		return toStatus(err)
	}

	values, err := indexValues(def, req.GetFields()[KeyValues].GetListValue())
	if err != nil {
		return toStatus(err)
	}

	spec, err := s.scanSpec(req.GetFields()[KeyScan].GetStructValue())
	if err != nil {
		return toStatus(err)
	}

	res, err := s.exec.Query(ctx, def, values, spec)
	if err != nil {
		return toStatus(err)
	}
	defer res.Close()

	for {
		if err := ctx.Err(); err != nil {
			return toStatus(err)
		}
		target, ok, err := res.Next()
		if err != nil {
			return toStatus(err)
		}
		if !ok {
			return nil
		}
		if err := stream.Send(wrapperspb.Bytes(target)); err != nil {
			return err
		}
	}
}

// ========== Schema ==========

func (s *Server) ListVirtualFields(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	registry, err := s.repo.VirtualFields(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	fields := registry.Fields()
	items := make([]any, 0, len(fields))
	for _, f := range fields {
		items = append(items, map[string]any{
			"name":      f.Name().String(),
			"id":        f.ID().String(),
			"valueType": f.Type.ValueType.String(),
			"kind":      f.Kind.String(),
		})
	}
	out, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode fields: %v", err)
	}
	return out, nil
}

func (s *Server) NormalizeScan(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	spec, err := s.decodeScan(req)
	if err != nil {
		return nil, toStatus(err)
	}
	node, err := scan.EncodeNode(spec, wire.WriteOptions{UseNamespacePrefixes: true})
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(node)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode scan: %v", err)
	}
	return out, nil
}

// ========== Helpers ==========

func (s *Server) decodeScan(req *structpb.Struct) (*scan.Spec, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrMalformedSpec, err)
	}
	spec, err := scan.Decode(data, nil, s.repo.Generator())
	if err != nil {
		s.metrics.RecordSpecDecodeError()
		return nil, err
	}
	return spec, nil
}

// scanSpec decodes req and applies the server's default caching when req has none
func (s *Server) scanSpec(req *structpb.Struct) (*scan.Spec, error) {
	spec, err := s.decodeScan(req)
	if err != nil {
		return nil, err
	}
	if _, set := req.GetFields()[scan.KeyCaching]; set || s.defaultCaching <= 0 {
		return spec, nil
	}
	return spec.ToBuilder().Caching(s.defaultCaching).Build()
}

func indexValues(def *index.Definition, list *structpb.ListValue) ([]any, error) {
	in := list.GetValues()
	if len(in) != len(def.Fields) {
		return nil, fmt.Errorf("%w: %s takes %d values, got %d", index.ErrInvalidValue, def.Name, len(def.Fields), len(in))
	}

	out := make([]any, len(in))
	for i, f := range def.Fields {
		switch f.Kind {
		case index.String:
			v, ok := in[i].GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, fmt.Errorf("%w: %s wants a string", index.ErrInvalidValue, f.Name)
			}
			out[i] = v.StringValue
		case index.Long:
			v, ok := in[i].GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("%w: %s wants a number", index.ErrInvalidValue, f.Name)
			}
			n, err := wire.AsInt(v.NumberValue, wire.Index(KeyValues, i))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", index.ErrInvalidValue, err)
			}
			out[i] = n
		}
	}
	return out, nil
}

func recordStruct(rec *schema.Record) (*structpb.Struct, error) {
	fields := make(map[string]any, len(rec.Fields))
	for name, v := range rec.Fields {
		fields[name.String()] = v
	}
	return structpb.NewStruct(map[string]any{
		"id":                rec.ID.String(),
		"version":           rec.Version,
		"recordType":        rec.RecordTypeName.String(),
		"recordTypeVersion": rec.RecordTypeVersion,
		"fields":            fields,
	})
}

// toStatus maps domain errors to gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, wire.ErrMalformedSpec),
		errors.Is(err, index.ErrInvalidValue),
		errors.Is(err, index.ErrInvalidDefinition),
		errors.Is(err, storage.ErrInvalidRange),
		errors.Is(err, scan.ErrInvalidSpec):
		code = codes.InvalidArgument
	case errors.Is(err, repository.ErrRecordNotFound),
		errors.Is(err, index.ErrIndexNotFound),
		errors.Is(err, schema.ErrFieldNotFound):
		code = codes.NotFound
	case errors.Is(err, schema.ErrSchemaInconsistency):
		code = codes.FailedPrecondition
	case errors.Is(err, virtualfield.ErrInitFailed),
		errors.Is(err, index.ErrCorruptRow):
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
