package grpc

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"social-events/internal/auth"
)

// ValidateTokenMethod is the auth service RPC. It takes the raw token as a
// StringValue and answers with the user id as an Int64Value (0 when invalid).
const ValidateTokenMethod = "/auth.AuthService/ValidateToken"

// AuthClient resolves bearer tokens through the external auth service.
type AuthClient struct {
	conn grpc.ClientConnInterface
}

// Dial connects to the auth service with tracing enabled.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial auth grpc: %w", err)
	}
	return conn, nil
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{conn: conn}
}

// ValidateToken verifies the token and returns the authenticated user id.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, auth.ErrMissingToken
	}
	resp := &wrapperspb.Int64Value{}
	if err := a.conn.Invoke(ctx, ValidateTokenMethod, wrapperspb.String(token), resp); err != nil {
		return 0, err
	}
	if resp.GetValue() <= 0 {
		return 0, auth.ErrInvalidToken
	}
	return resp.GetValue(), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewTokenValidator prefers the auth service when addr is set and falls back
// to local JWT verification otherwise. The closer releases the gRPC connection.
func NewTokenValidator(addr, jwtSecret, jwtIssuer string) (auth.TokenValidator, io.Closer, error) {
	if addr == "" {
		return auth.NewJWTValidator(jwtSecret, jwtIssuer), nopCloser{}, nil
	}
	conn, err := Dial(addr)
	if err != nil {
		return nil, nil, err
	}
	return NewAuthClient(conn), conn, nil
}
