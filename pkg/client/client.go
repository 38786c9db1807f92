package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/paramd/pkg/api"
	"github.com/cuemby/paramd/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultTimeout bounds every call that does not take a context
const DefaultTimeout = 10 * time.Second

// Client wraps the paramd gRPC API for CLI and library use
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient connects to the API socket at path. The connection is
// established lazily on the first call.
func NewClient(path string) (*Client, error) {
	if path == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	// the server identifies callers from the socket, the stream itself is
	// not encrypted
	conn, err := grpc.NewClient("unix://"+path, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return api.FromStatus(err)
	}
	return nil
}

// Get returns a parameter's value
func (c *Client) Get(name string) (string, error) {
	entry, err := c.GetEntry(name)
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// GetEntry returns a parameter with its commit id
func (c *Client) GetEntry(name string) (types.Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.invoke(ctx, api.MethodGetParameter, wrapperspb.String(name), resp); err != nil {
		return types.Entry{}, err
	}
	return api.EntryFromStruct(resp), nil
}

// Set writes a parameter and returns its new commit id
func (c *Client) Set(name, value string) (uint32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	req := api.EntryToStruct(types.Entry{Name: name, Value: value})
	if err := c.invoke(ctx, api.MethodSetParameter, req, resp); err != nil {
		return 0, err
	}
	return api.EntryFromStruct(resp).CommitID, nil
}

// CommitID returns a parameter's commit id
func (c *Client) CommitID(name string) (uint32, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty name", types.ErrInvalidName)
	}
	return c.commitID(name)
}

// SystemCommitID returns the workspace-wide commit counter
func (c *Client) SystemCommitID() (uint32, error) {
	return c.commitID("")
}

func (c *Client) commitID(name string) (uint32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp := &wrapperspb.UInt32Value{}
	if err := c.invoke(ctx, api.MethodGetCommitID, wrapperspb.String(name), resp); err != nil {
		return 0, err
	}
	return resp.GetValue(), nil
}

// ListParameters returns every readable parameter matching prefix, which
// is a name or a name followed by '*'. An empty prefix lists everything.
func (c *Client) ListParameters(ctx context.Context, prefix string) ([]types.Entry, error) {
	resp := &structpb.ListValue{}
	if err := c.invoke(ctx, api.MethodListParameters, wrapperspb.String(prefix), resp); err != nil {
		return nil, err
	}
	entries := make([]types.Entry, 0, len(resp.GetValues()))
	for _, v := range resp.GetValues() {
		entries = append(entries, api.EntryFromStruct(v.GetStructValue()))
	}
	return entries, nil
}

// Wait blocks until name holds value, "*" matching any value. A zero
// timeout waits until ctx ends.
func (c *Client) Wait(ctx context.Context, name, value string, timeout time.Duration) (types.Entry, error) {
	fields := map[string]*structpb.Value{
		"name":  structpb.NewStringValue(name),
		"value": structpb.NewStringValue(value),
	}
	if timeout > 0 {
		fields["timeout_ms"] = structpb.NewNumberValue(float64(timeout.Milliseconds()))
	}

	resp := &structpb.Struct{}
	if err := c.invoke(ctx, api.MethodWaitParameter, &structpb.Struct{Fields: fields}, resp); err != nil {
		return types.Entry{}, err
	}
	return api.EntryFromStruct(resp), nil
}
