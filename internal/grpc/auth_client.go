package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"community-chat/internal/auth"
)

// ValidateTokenMethod is the auth service RPC used for token checks. Requests
// and responses travel as google.protobuf.Struct:
// {"token": "..."} -> {"valid": true, "user_id": 42}.
const ValidateTokenMethod = "/auth.AuthService/ValidateToken"

// AuthClient validates tokens against the auth service.
type AuthClient struct {
	conn grpc.ClientConnInterface
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{conn: conn}
}

// ValidateToken verifies the token and returns the authenticated user id.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (int64, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"token": token})
	if err != nil {
		return 0, err
	}

	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, ValidateTokenMethod, req, resp); err != nil {
		return 0, fmt.Errorf("validate token: %w", err)
	}

	fields := resp.GetFields()
	userID := int64(fields["user_id"].GetNumberValue())
	if !fields["valid"].GetBoolValue() || userID <= 0 {
		return 0, auth.ErrInvalidToken
	}
	return userID, nil
}
