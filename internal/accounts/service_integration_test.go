//go:build integration

package accounts

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/database"
	"github.com/curibio/cloud-core/internal/scopes"
)

func testService(t *testing.T) (*Service, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.RunMigrations(context.Background(), pool, "../../migrations"))

	tokens := auth.NewTokenService("integration-test-secret", "curibio:services")
	return NewService(pool, tokens), pool
}

func seedAdmin(t *testing.T, pool *pgxpool.Pool, password string) (uuid.UUID, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	email := uuid.NewString() + "@curibio.com"
	var id uuid.UUID
	require.NoError(t, pool.QueryRow(context.Background(),
		`INSERT INTO customers (email, password) VALUES (LOWER($1), $2) RETURNING id`,
		email, string(hash)).Scan(&id))
	return id, email
}

func TestPasswordResetFlow(t *testing.T) {
	svc, pool := testService(t)
	ctx := context.Background()
	customerID, email := seedAdmin(t, pool, "first-password")

	token, err := svc.RequestPasswordReset(ctx, email, "", "")
	require.NoError(t, err)

	var persisted *string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT reset_token FROM customers WHERE id = $1`, customerID).Scan(&persisted))
	require.NotNil(t, persisted)
	require.Equal(t, token, *persisted)

	claims, err := svc.tokens.Decode(token)
	require.NoError(t, err)
	require.Equal(t, []scopes.Scope{scopes.AdminReset}, claims.Scopes)
	require.Empty(t, claims.Fingerprint)

	require.NoError(t, svc.ResetPassword(ctx, claims, token, "second-password"))

	// the row's token is cleared, so a replay changes nothing
	require.ErrorIs(t, svc.ResetPassword(ctx, claims, token, "third-password"),
		ErrResetTokenStale)

	pair, err := svc.LoginAdmin(ctx, email, "second-password")
	require.NoError(t, err)
	require.NotEmpty(t, pair.Access)

	_, err = svc.LoginAdmin(ctx, email, "first-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordResetSuperseded(t *testing.T) {
	svc, pool := testService(t)
	ctx := context.Background()
	_, email := seedAdmin(t, pool, "first-password")

	first, err := svc.RequestPasswordReset(ctx, email, "", "")
	require.NoError(t, err)
	second, err := svc.RequestPasswordReset(ctx, email, "", "")
	require.NoError(t, err)

	claims, err := svc.tokens.Decode(first)
	require.NoError(t, err)

	// only the most recently issued token redeems
	require.ErrorIs(t, svc.ResetPassword(ctx, claims, first, "second-password"),
		ErrResetTokenStale)
	require.NoError(t, svc.ResetPassword(ctx, claims, second, "second-password"))
}

func TestPasswordResetRefusesReusedPassword(t *testing.T) {
	svc, pool := testService(t)
	ctx := context.Background()
	_, email := seedAdmin(t, pool, "first-password")

	token, err := svc.RequestPasswordReset(ctx, email, "", "")
	require.NoError(t, err)
	claims, err := svc.tokens.Decode(token)
	require.NoError(t, err)

	require.ErrorIs(t, svc.ResetPassword(ctx, claims, token, "first-password"),
		ErrPasswordReuse)
}

func TestPasswordResetUnknownAccount(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.RequestPasswordReset(context.Background(), "nobody@curibio.com", "", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
