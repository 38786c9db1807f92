/*
Package api implements the paramd gRPC API server and its wire conversions.

The API is the remote face of the parameter service. Clients on the same host
connect over a unix socket; the server identifies each caller from the
socket's peer credentials (SO_PEERCRED) and evaluates every call against the
security dispatcher with those credentials.

# Architecture

	┌──────────── CLIENT (paramd get/set/wait, pkg/client) ────────────┐
	│  grpc.NewClient("unix:///run/paramd/api.sock")                     │
	└───────────────────────────────┬───────────────────────────────────┘
	                                │ gRPC over unix socket
	┌───────────────────────────────▼───────────────────────────────────┐
	│  PeerCredentials handshake   -> AuthInfo{Cred: pid/uid/gid}        │
	│  MetricsInterceptor          -> paramd_api_requests_total          │
	│  ReadOnlyInterceptor         -> optional, Get/List/Wait only       │
	│  Server (paramd.v1.ParamService)                                   │
	│    GetParameter  SetParameter  GetCommitId                         │
	│    ListParameters  WaitParameter                                   │
	└───────────────────────────────┬───────────────────────────────────┘
	                                │
	                        param.Service

# Messages

There is no generated code: requests and responses are protobuf well-known
types. Entries travel as a Struct with the fields name, value and commit_id;
names and prefixes travel as StringValue; commit ids as UInt32Value.

# Errors

ToStatus maps service errors to gRPC codes and FromStatus maps them back so
that errors.Is works across the socket:

	ErrInvalidName, ErrInvalidValue   InvalidArgument
	ErrNotFound                       NotFound
	ErrForbidden                      PermissionDenied
	ErrCapacityExceeded               ResourceExhausted
	ErrReadOnly                       FailedPrecondition
	ErrTransientRead                  Unavailable

# Health

HealthServer serves /health, /ready and /metrics over HTTP. /health turns
503 when any registered component reports unhealthy; /ready also requires
the workspace and every name in metrics.CriticalComponents.

# Read-only sockets

With ServerConfig.ReadOnly only GetParameter, GetCommitId, ListParameters
and WaitParameter are served; other methods fail with PermissionDenied.
*/
package api
