package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/cuemby/paramd/pkg/workspace"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// stopTimeout bounds GracefulStop before pending calls are cut off
const stopTimeout = 5 * time.Second

// ParamService is the parameter service the API exposes
type ParamService interface {
	GetEntry(cred types.Credentials, name string) (types.Entry, error)
	SetParameter(cred types.Credentials, name, value string) (uint32, error)
	FindParameter(cred types.Credentials, name string) (workspace.Handle, error)
	GetCommitID(h workspace.Handle) (uint32, error)
	GetSystemCommitID() uint32
	TraverseParameters(cred types.Credentials, fn func(types.Entry) error) error
	WaitParameter(ctx context.Context, cred types.Credentials, name, value string) (types.Entry, error)
}

// ServerConfig configures the API server
type ServerConfig struct {
	// SocketPath is the unix socket the server listens on
	SocketPath string
	// ReadOnly rejects SetParameter
	ReadOnly bool
	// Credentials identifies callers; defaults to SO_PEERCRED
	Credentials func(net.Conn) (types.Credentials, error)
}

// Server implements the ParamService gRPC service
type Server struct {
	svc        ParamService
	socketPath string
	grpc       *grpc.Server
	lis        net.Listener
	logger     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(svc ParamService, cfg ServerConfig) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("param service is required")
	}
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}

	interceptors := []grpc.UnaryServerInterceptor{MetricsInterceptor()}
	if cfg.ReadOnly {
		interceptors = append(interceptors, ReadOnlyInterceptor())
	}

	s := &Server{
		svc:        svc,
		socketPath: cfg.SocketPath,
		grpc: grpc.NewServer(
			grpc.Creds(PeerCredentials(cfg.Credentials)),
			grpc.ChainUnaryInterceptor(interceptors...),
		),
		logger: log.WithComponent("api"),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	return s, nil
}

// Listen binds the unix socket, replacing a stale one
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	// access is decided per call from the caller's credentials
	if err := os.Chmod(s.socketPath, 0666); err != nil {
		lis.Close()
		return fmt.Errorf("failed to chmod socket: %w", err)
	}
	s.lis = lis
	return nil
}

// Serve serves on the listener bound by Listen until Stop
func (s *Server) Serve() error {
	if s.lis == nil {
		return fmt.Errorf("server is not listening")
	}
	s.logger.Info().Str("socket", s.socketPath).Msg("gRPC API listening")
	if err := s.grpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Start listens and serves
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop gracefully stops the gRPC server. Calls still running after
// stopTimeout, such as long waits, are cut off.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn().Msg("graceful stop timed out, forcing")
		s.grpc.Stop()
	}
	os.Remove(s.socketPath)
}

// GetParameter returns an entry by name
func (s *Server) GetParameter(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	cred, err := CallerCredentials(ctx)
	if err != nil {
		return nil, ToStatus(err)
	}
	entry, err := s.svc.GetEntry(cred, req.GetValue())
	if err != nil {
		return nil, ToStatus(err)
	}
	return EntryToStruct(entry), nil
}

// SetParameter writes a parameter and returns it with its new commit id
func (s *Server) SetParameter(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cred, err := CallerCredentials(ctx)
	if err != nil {
		return nil, ToStatus(err)
	}
	entry := EntryFromStruct(req)
	commit, err := s.svc.SetParameter(cred, entry.Name, entry.Value)
	if err != nil {
		return nil, ToStatus(err)
	}
	entry.CommitID = commit
	return EntryToStruct(entry), nil
}

// GetCommitId returns a parameter's commit id, or the system commit id when
// no name is given
func (s *Server) GetCommitId(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.UInt32Value, error) {
	if req.GetValue() == "" {
		return wrapperspb.UInt32(s.svc.GetSystemCommitID()), nil
	}
	cred, err := CallerCredentials(ctx)
	if err != nil {
		return nil, ToStatus(err)
	}
	h, err := s.svc.FindParameter(cred, req.GetValue())
	if err != nil {
		return nil, ToStatus(err)
	}
	commit, err := s.svc.GetCommitID(h)
	if err != nil {
		return nil, ToStatus(err)
	}
	return wrapperspb.UInt32(commit), nil
}

// ListParameters returns every readable entry matching the prefix pattern.
// An empty prefix lists everything.
func (s *Server) ListParameters(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	cred, err := CallerCredentials(ctx)
	if err != nil {
		return nil, ToStatus(err)
	}
	prefix := req.GetValue()
	if prefix != "" {
		if err := types.ValidatePrefix(prefix); err != nil {
			return nil, ToStatus(err)
		}
	}

	list := &structpb.ListValue{}
	err = s.svc.TraverseParameters(cred, func(e types.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if prefix == "" || types.MatchPrefix(prefix, e.Name) {
			list.Values = append(list.Values, structpb.NewStructValue(EntryToStruct(e)))
		}
		return nil
	})
	if err != nil {
		return nil, ToStatus(err)
	}
	return list, nil
}

// WaitParameter blocks until the parameter holds the requested value, "*"
// matching any value, or until timeout_ms elapses
func (s *Server) WaitParameter(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cred, err := CallerCredentials(ctx)
	if err != nil {
		return nil, ToStatus(err)
	}
	fields := req.GetFields()
	name := fields["name"].GetStringValue()
	value := fields["value"].GetStringValue()
	if timeout := fields["timeout_ms"].GetNumberValue(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
		defer cancel()
	}

	entry, err := s.svc.WaitParameter(ctx, cred, name, value)
	if err != nil {
		return nil, ToStatus(err)
	}
	return EntryToStruct(entry), nil
}
