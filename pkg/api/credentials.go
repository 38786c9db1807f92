package api

import (
	"context"
	"fmt"
	"net"

	"github.com/cuemby/paramd/pkg/peer"
	"github.com/cuemby/paramd/pkg/types"
	"google.golang.org/grpc/credentials"
	grpcpeer "google.golang.org/grpc/peer"
)

// AuthInfo carries the credentials of the calling process
type AuthInfo struct {
	credentials.CommonAuthInfo
	Cred types.Credentials
}

func (AuthInfo) AuthType() string {
	return "peercred"
}

// peerCredentials is a server-side handshake that identifies the caller
// from the unix socket instead of encrypting the stream
type peerCredentials struct {
	lookup func(net.Conn) (types.Credentials, error)
}

// PeerCredentials returns transport credentials that attach the peer's
// pid, uid and gid to every call. lookup defaults to SO_PEERCRED.
func PeerCredentials(lookup func(net.Conn) (types.Credentials, error)) credentials.TransportCredentials {
	if lookup == nil {
		lookup = peer.Credentials
	}
	return &peerCredentials{lookup: lookup}
}

func (p *peerCredentials) ClientHandshake(_ context.Context, _ string, conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return conn, AuthInfo{CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.NoSecurity}}, nil
}

func (p *peerCredentials) ServerHandshake(conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	cred, err := p.lookup(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("peer credentials: %w", err)
	}
	return conn, AuthInfo{
		CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.NoSecurity},
		Cred:           cred,
	}, nil
}

func (p *peerCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: "peercred"}
}

func (p *peerCredentials) Clone() credentials.TransportCredentials {
	return &peerCredentials{lookup: p.lookup}
}

func (p *peerCredentials) OverrideServerName(string) error {
	return nil
}

// CallerCredentials returns the credentials attached by PeerCredentials
func CallerCredentials(ctx context.Context) (types.Credentials, error) {
	p, ok := grpcpeer.FromContext(ctx)
	if !ok {
		return types.Credentials{}, fmt.Errorf("no peer in context: %w", types.ErrForbidden)
	}
	info, ok := p.AuthInfo.(AuthInfo)
	if !ok {
		return types.Credentials{}, fmt.Errorf("caller not identified: %w", types.ErrForbidden)
	}
	return info.Cred, nil
}
