package refresh

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/vietddude/govwatch/internal/core/checkpoint"
	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/rpc"
)

// The refresh service carries the same JSON bodies as the HTTP endpoint.
const (
	codecName         = "json"
	refreshService    = "govwatch.refresh.v1.Refresh"
	refreshMethodName = "/" + refreshService + "/Refresh"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

// CallRequest is a refresh request addressed by kind.
type CallRequest struct {
	Kind string `json:"kind"`
	Request
}

type refreshServer interface {
	Refresh(ctx context.Context, req *CallRequest) (*Response, error)
}

var refreshServiceDesc = grpc.ServiceDesc{
	ServiceName: refreshService,
	HandlerType: (*refreshServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Refresh", Handler: refreshHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func refreshHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(refreshServer).Refresh(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: refreshMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(refreshServer).Refresh(ctx, req.(*CallRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer serves the refresh endpoint over gRPC. Rejected requests are
// answered with a status code; refresh failures with a nok response.
type GRPCServer struct {
	handler *Handler
	server  *grpc.Server
	port    int
	log     *slog.Logger
}

// NewGRPCServer exposes h on port.
func NewGRPCServer(h *Handler, port int) *GRPCServer {
	s := &GRPCServer{
		handler: h,
		server:  grpc.NewServer(),
		port:    port,
		log:     slog.Default().With("component", "refresh-grpc"),
	}
	s.server.RegisterService(&refreshServiceDesc, s)
	return s
}

// Refresh implements the refresh service.
func (s *GRPCServer) Refresh(ctx context.Context, req *CallRequest) (*Response, error) {
	kind, err := domain.ParseWorkKind(req.Kind)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if req.SourceID == "" {
		return nil, status.Error(codes.InvalidArgument, "source_id is required")
	}

	code, resp := s.handler.handle(ctx, kind, req.Request)
	switch code {
	case http.StatusOK:
		return &resp, nil
	case http.StatusNotFound:
		return nil, status.Error(codes.NotFound, resp.Error)
	case http.StatusBadRequest:
		return nil, status.Error(codes.InvalidArgument, resp.Error)
	case http.StatusConflict:
		return nil, status.Error(codes.Aborted, resp.Error)
	default:
		return nil, status.Error(codes.Internal, resp.Error)
	}
}

// Start listens on the configured port and serves until Stop.
func (s *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", s.port, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.log.Info("Serving refreshes", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop drains in-flight calls, cutting them off once ctx is done.
func (s *GRPCServer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}

// GRPCClient delegates refreshes to a GRPCServer.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// IsGRPCTarget reports whether target names a gRPC refresh endpoint.
func IsGRPCTarget(target string) bool {
	return strings.HasPrefix(target, "grpc://") || strings.HasPrefix(target, "grpcs://")
}

// NewGRPCClient connects lazily to target. grpcs:// uses TLS, grpc:// and
// bare host:port do not.
func NewGRPCClient(target string, timeout time.Duration) (*GRPCClient, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var creds credentials.TransportCredentials
	switch {
	case strings.HasPrefix(target, "grpcs://"):
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		target = strings.TrimPrefix(target, "grpcs://")
	default:
		creds = insecure.NewCredentials()
		target = strings.TrimPrefix(target, "grpc://")
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return &GRPCClient{conn: conn, timeout: timeout}, nil
}

// Refresh calls the remote service. Status errors are classified the same
// way as HTTP failures.
func (c *GRPCClient) Refresh(ctx context.Context, item domain.WorkItem) (checkpoint.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &CallRequest{
		Kind:    string(item.Kind),
		Request: Request{SourceID: item.SourceID, Voters: item.Voters},
	}
	var out Response
	if err := c.conn.Invoke(ctx, refreshMethodName, req, &out); err != nil {
		return checkpoint.Outcome{}, rpc.Classify(err)
	}
	if out.Status != StatusOK {
		return checkpoint.Outcome{}, fmt.Errorf("%w: %s: %s", ErrRemoteRefresh, item.SourceID, out.Error)
	}
	return checkpoint.Outcome{Idle: out.Idle}, nil
}

// Close releases the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
