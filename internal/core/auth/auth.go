// Package auth provides HMAC-based API key authentication for gRPC services.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// clientNameKey is the context key for the authenticated client name.
const clientNameKey = contextKey("client_name")

// healthPrefix marks methods that never require a key.
const healthPrefix = "/grpc.health.v1.Health/"

// Queries defines the database operations needed for authentication.
// Implemented by *db.Queries.
type Queries interface {
	GetContext(ctx context.Context, name string, dest any, args ...any) error
	ExecContext(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets keyed by
// secret ID.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type keyRow struct {
	APIKeyID   string       `db:"api_key_id"`
	ClientName string       `db:"client_name"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
}

// Authenticate validates apiKey and returns the client name it was issued to.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	var row keyRow
	err = a.queries.GetContext(ctx, "get-api-key-by-hash", &row, KeyHash(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// Throttled to one write per minute per key.
	now := a.now()
	if !row.LastUsedAt.Valid || now.Sub(row.LastUsedAt.Time) > time.Minute {
		_, _ = a.queries.ExecContext(ctx, "update-last-used", now, row.APIKeyID)
	}
	return row.ClientName, nil
}

// Issue creates a key for clientName signed with the secret secretID. The
// plaintext key is returned once; only its hash is stored.
func (a *Authenticator) Issue(ctx context.Context, clientName, secretID string) (apiKeyID, apiKey string, err error) {
	if strings.TrimSpace(clientName) == "" {
		return "", "", errors.New("client name is required")
	}
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", "", ErrUnknownKey
	}
	apiKey, err = GenerateAPIKey(secretID)
	if err != nil {
		return "", "", err
	}
	apiKeyID = uuid.Must(uuid.NewV7()).String()
	_, err = a.queries.ExecContext(ctx, "insert-api-key",
		apiKeyID, clientName, secretID, KeyHash(secret, apiKey), a.now())
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	return apiKeyID, apiKey, nil
}

// Revoke marks a key as revoked. Revoking an unknown or already revoked key
// returns ErrInvalidKey.
func (a *Authenticator) Revoke(ctx context.Context, apiKeyID string) error {
	res, err := a.queries.ExecContext(ctx, "revoke-api-key", a.now(), apiKeyID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrInvalidKey
	}
	return nil
}

// UnaryInterceptor returns a gRPC interceptor that authenticates requests.
// Health checks pass through unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		client, err := a.Authenticate(ctx, apiKeys[0])
		switch {
		case errors.Is(err, ErrKeyRevoked):
			return nil, status.Error(codes.PermissionDenied, err.Error())
		case errors.Is(err, ErrDatabase):
			return nil, status.Error(codes.Unavailable, err.Error())
		case err != nil:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(context.WithValue(ctx, clientNameKey, client), req)
	}
}

// ClientNameFromContext returns the authenticated client name, or "" when
// the request was not authenticated.
func ClientNameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(clientNameKey).(string); ok {
		return name
	}
	return ""
}
