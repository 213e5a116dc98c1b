package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/scopes"
)

// Failed logins beyond this suspend the account until an admin clears it.
const maxFailedLoginAttempts = 10

var (
	// ErrInvalidCredentials covers every login failure so callers cannot
	// distinguish unknown accounts from wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordReuse      = errors.New("password matches a recent password")
	ErrResetTokenStale    = errors.New("reset token already used or superseded")
)

type Service struct {
	db     *pgxpool.Pool
	tokens *auth.TokenService
}

func NewService(db *pgxpool.Pool, tokens *auth.TokenService) *Service {
	return &Service{db: db, tokens: tokens}
}

// LoginAdmin authenticates a customer account by email and returns a
// fresh token pair. The refresh token is persisted on the row so that a
// presented refresh token can be matched exactly.
func (s *Service) LoginAdmin(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	var (
		id       uuid.UUID
		hash     string
		failed   int
		suspends bool
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, password, failed_login_attempts, suspended
		 FROM customers WHERE deleted_at IS NULL AND email = LOWER($1)`, email,
	).Scan(&id, &hash, &failed, &suspends)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if suspends {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		s.recordFailedLogin(ctx, "customers", id, failed+1)
		return nil, ErrInvalidCredentials
	}

	scopeSet, err := s.GetScopes(ctx, id, nil)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.CreatePair(id, nil, models.AccountTypeAdmin, scopeSet)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE customers SET refresh_token = $1, failed_login_attempts = 0 WHERE id = $2`,
		pair.Refresh, id,
	); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}
	return pair, nil
}

// LoginUser authenticates a user by customer alias (or customer id) plus
// username. Unverified, suspended and soft-deleted users are rejected
// with the same error as a bad password.
func (s *Service) LoginUser(ctx context.Context, customerCode, username, password string) (*auth.TokenPair, error) {
	customerID, err := s.resolveCustomer(ctx, customerCode)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	var (
		id       uuid.UUID
		hash     string
		failed   int
		verified bool
		suspends bool
	)
	err = s.db.QueryRow(ctx,
		`SELECT id, password, failed_login_attempts, verified, suspended
		 FROM users WHERE deleted_at IS NULL AND customer_id = $1 AND name = LOWER($2)`,
		customerID, username,
	).Scan(&id, &hash, &failed, &verified, &suspends)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !verified || suspends {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		s.recordFailedLogin(ctx, "users", id, failed+1)
		return nil, ErrInvalidCredentials
	}

	scopeSet, err := s.GetScopes(ctx, customerID, &id)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.CreatePair(customerID, &id, models.AccountTypeUser, scopeSet)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE users SET refresh_token = $1, failed_login_attempts = 0 WHERE id = $2`,
		pair.Refresh, id,
	); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}
	return pair, nil
}

// Refresh rotates a token pair. The presented token must match the one
// persisted at the last login or rotation; the conditional UPDATE makes
// concurrent rotations of the same token lose cleanly.
func (s *Service) Refresh(ctx context.Context, claims *auth.Claims, presented string) (*auth.TokenPair, error) {
	table := "customers"
	if claims.AccountType == models.AccountTypeUser {
		table = "users"
	}
	accountID := claims.AccountID()

	var persisted *string
	err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT refresh_token FROM %s WHERE id = $1 AND deleted_at IS NULL`, table),
		accountID,
	).Scan(&persisted)
	if err != nil || persisted == nil || *persisted != presented {
		return nil, ErrInvalidCredentials
	}

	scopeSet, err := s.GetScopes(ctx, claims.CustomerID, claims.UserID)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.CreatePair(claims.CustomerID, claims.UserID, claims.AccountType, scopeSet)
	if err != nil {
		return nil, err
	}

	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET refresh_token = $1 WHERE id = $2 AND refresh_token = $3`, table),
		pair.Refresh, accountID, presented,
	)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrInvalidCredentials
	}
	return pair, nil
}

// Logout clears the persisted refresh token, ending the session once the
// outstanding access token expires.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims) error {
	table := "customers"
	if claims.AccountType == models.AccountTypeUser {
		table = "users"
	}
	_, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET refresh_token = NULL WHERE id = $1`, table),
		claims.AccountID(),
	)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// RegisterUser creates an unverified user under the admin's customer.
// The requested scopes are checked against what the admin may grant.
func (s *Service) RegisterUser(ctx context.Context, admin *auth.Claims, email, username string, scopeSet []scopes.Scope) (*models.Account, string, error) {
	if err := scopes.ValidateDependencies(scopeSet); err != nil {
		return nil, "", err
	}
	if err := scopes.CheckProhibitedUserScopes(scopeSet, admin.Scopes); err != nil {
		return nil, "", err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback(ctx)

	var account models.Account
	account.CustomerID = admin.CustomerID
	account.Type = models.AccountTypeUser
	err = tx.QueryRow(ctx,
		`INSERT INTO users (customer_id, email, name, verified)
		 VALUES ($1, LOWER($2), LOWER($3), FALSE)
		 RETURNING id, email, name, created_at`,
		admin.CustomerID, email, username,
	).Scan(&account.ID, &account.Email, &account.Name, &account.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	for _, sc := range scopeSet {
		if _, err := tx.Exec(ctx,
			`INSERT INTO account_scopes (customer_id, user_id, scope) VALUES ($1, $2, $3)`,
			admin.CustomerID, account.ID, string(sc),
		); err != nil {
			return nil, "", fmt.Errorf("assign scope %s: %w", sc, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit register: %w", err)
	}

	verify, err := s.tokens.Create(auth.TokenParams{
		CustomerID:  admin.CustomerID,
		UserID:      &account.ID,
		AccountType: models.AccountTypeUser,
		Scopes:      []scopes.Scope{scopes.UserVerify},
	})
	if err != nil {
		return nil, "", err
	}
	return &account, verify, nil
}

// Verify sets the first password of a freshly registered user. The
// caller holds a single-use style account token; once verified, replays
// find nothing to do.
func (s *Service) Verify(ctx context.Context, claims *auth.Claims, password string) error {
	if claims.UserID == nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET password = $1, verified = TRUE
		 WHERE id = $2 AND deleted_at IS NULL AND verified = FALSE`,
		string(hash), *claims.UserID,
	)
	if err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// RequestPasswordReset mints a 24h single-scope reset token for the
// matching account and persists it on the row. Minting again supersedes
// any earlier token; lookup failures return the uniform credentials
// error so accounts cannot be enumerated.
func (s *Service) RequestPasswordReset(ctx context.Context, email, customerCode, username string) (string, error) {
	if email != "" {
		var customerID uuid.UUID
		err := s.db.QueryRow(ctx,
			`SELECT id FROM customers WHERE deleted_at IS NULL AND NOT suspended AND email = LOWER($1)`,
			email,
		).Scan(&customerID)
		if err != nil {
			return "", ErrInvalidCredentials
		}
		token, err := s.tokens.Create(auth.TokenParams{
			CustomerID:  customerID,
			AccountType: models.AccountTypeAdmin,
			Scopes:      []scopes.Scope{scopes.AdminReset},
		})
		if err != nil {
			return "", err
		}
		if _, err := s.db.Exec(ctx,
			`UPDATE customers SET reset_token = $1 WHERE id = $2`, token, customerID); err != nil {
			return "", fmt.Errorf("persist reset token: %w", err)
		}
		return token, nil
	}

	customerID, err := s.resolveCustomer(ctx, customerCode)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	var userID uuid.UUID
	err = s.db.QueryRow(ctx,
		`SELECT id FROM users
		 WHERE deleted_at IS NULL AND NOT suspended AND verified
		   AND customer_id = $1 AND name = LOWER($2)`,
		customerID, username,
	).Scan(&userID)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	token, err := s.tokens.Create(auth.TokenParams{
		CustomerID:  customerID,
		UserID:      &userID,
		AccountType: models.AccountTypeUser,
		Scopes:      []scopes.Scope{scopes.UserReset},
	})
	if err != nil {
		return "", err
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE users SET reset_token = $1 WHERE id = $2`, token, userID); err != nil {
		return "", fmt.Errorf("persist reset token: %w", err)
	}
	return token, nil
}

// ResetPassword redeems a reset token. The presented token must equal
// the persisted one; the conditional UPDATE clears it, so a replay or a
// superseded token changes nothing. The new password is refused if it
// matches the current one or one of the retained previous hashes.
func (s *Service) ResetPassword(ctx context.Context, claims *auth.Claims, presented, password string) error {
	table := "customers"
	if claims.AccountType == models.AccountTypeUser {
		table = "users"
	}
	accountID := claims.AccountID()

	var (
		current  string
		previous []string
	)
	err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT password, previous_passwords FROM %s WHERE id = $1 AND deleted_at IS NULL`, table),
		accountID,
	).Scan(&current, &previous)
	if err != nil {
		return fmt.Errorf("load password history: %w", err)
	}

	if err := CheckPasswordHistory(password, append([]string{current}, previous...)); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s
		 SET password = $1, previous_passwords = $2, refresh_token = NULL, reset_token = NULL
		 WHERE id = $3 AND reset_token = $4`, table),
		string(hash), PushPasswordHistory(previous, current), accountID, presented,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrResetTokenStale
	}
	return nil
}

// GetScopes loads the assigned scopes for a customer or one of its
// users. A nil userID selects the customer's own admin scopes.
func (s *Service) GetScopes(ctx context.Context, customerID uuid.UUID, userID *uuid.UUID) ([]scopes.Scope, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if userID == nil {
		rows, err = s.db.Query(ctx,
			`SELECT scope FROM account_scopes WHERE customer_id = $1 AND user_id IS NULL`, customerID)
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT scope FROM account_scopes WHERE customer_id = $1 AND user_id = $2`, customerID, *userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get scopes: %w", err)
	}
	defer rows.Close()

	var out []scopes.Scope
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		sc, err := scopes.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SetUserScopes replaces a user's scope assignment. The granter must be
// an admin allowed to hand out every requested scope.
func (s *Service) SetUserScopes(ctx context.Context, granter *auth.Claims, userID uuid.UUID, scopeSet []scopes.Scope) error {
	if err := scopes.ValidateDependencies(scopeSet); err != nil {
		return err
	}
	if err := scopes.CheckProhibitedUserScopes(scopeSet, granter.Scopes); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scope update: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND customer_id = $2 AND deleted_at IS NULL)`,
		userID, granter.CustomerID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return ErrInvalidCredentials
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM account_scopes WHERE customer_id = $1 AND user_id = $2`,
		granter.CustomerID, userID,
	); err != nil {
		return fmt.Errorf("clear scopes: %w", err)
	}
	for _, sc := range scopeSet {
		if _, err := tx.Exec(ctx,
			`INSERT INTO account_scopes (customer_id, user_id, scope) VALUES ($1, $2, $3)`,
			granter.CustomerID, userID, string(sc),
		); err != nil {
			return fmt.Errorf("assign scope %s: %w", sc, err)
		}
	}
	return tx.Commit(ctx)
}

// SetAdminScopes grants admin scopes to another customer account. Only
// holders of the root admin scope may do this, enforced in the checks.
func (s *Service) SetAdminScopes(ctx context.Context, granter *auth.Claims, customerID uuid.UUID, scopeSet []scopes.Scope) error {
	if err := scopes.ValidateDependencies(scopeSet); err != nil {
		return err
	}
	if err := scopes.CheckProhibitedAdminScopes(scopeSet, granter.Scopes); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scope update: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM account_scopes WHERE customer_id = $1 AND user_id IS NULL`, customerID,
	); err != nil {
		return fmt.Errorf("clear scopes: %w", err)
	}
	for _, sc := range scopeSet {
		if _, err := tx.Exec(ctx,
			`INSERT INTO account_scopes (customer_id, user_id, scope) VALUES ($1, NULL, $2)`,
			customerID, string(sc),
		); err != nil {
			return fmt.Errorf("assign scope %s: %w", sc, err)
		}
	}
	return tx.Commit(ctx)
}

// ListUsers returns the admin's users, newest first.
func (s *Service) ListUsers(ctx context.Context, admin *auth.Claims) ([]models.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, customer_id, email, name, verified, suspended, created_at
		 FROM users WHERE customer_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC`, admin.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a := models.Account{Type: models.AccountTypeUser}
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.Email, &a.Name, &a.Verified, &a.Suspended, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Service) resolveCustomer(ctx context.Context, code string) (uuid.UUID, error) {
	if id, err := uuid.Parse(code); err == nil {
		return id, nil
	}
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`SELECT id FROM customers WHERE deleted_at IS NULL AND alias = LOWER($1)`, code,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve customer: %w", err)
	}
	return id, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, table string, id uuid.UUID, attempts int) {
	_, _ = s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET failed_login_attempts = $1, suspended = $2 WHERE id = $3`, table),
		attempts, attempts >= maxFailedLoginAttempts, id,
	)
}
