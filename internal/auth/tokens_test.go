package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/scopes"
)

func newTestService() *TokenService {
	return NewTokenService("test-secret", "curibio:services")
}

func TestCreateAndDecodeRoundTrip(t *testing.T) {
	svc := newTestService()
	customerID := uuid.New()
	userID := uuid.New()

	_, hashed, err := NewFingerprint()
	require.NoError(t, err)

	signed, err := svc.Create(TokenParams{
		CustomerID:  customerID,
		UserID:      &userID,
		AccountType: models.AccountTypeUser,
		Scopes:      []scopes.Scope{scopes.MantarrayBase},
		Fingerprint: hashed,
	})
	require.NoError(t, err)

	claims, err := svc.Decode(signed)
	require.NoError(t, err)
	require.Equal(t, customerID, claims.CustomerID)
	require.NotNil(t, claims.UserID)
	require.Equal(t, userID, *claims.UserID)
	require.Equal(t, models.AccountTypeUser, claims.AccountType)
	require.Equal(t, []scopes.Scope{scopes.MantarrayBase}, claims.Scopes)
	require.Equal(t, hashed, claims.Fingerprint)
	require.Equal(t, userID, claims.AccountID())
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	userID := uuid.New()
	signed, err := newTestService().Create(TokenParams{
		CustomerID:  uuid.New(),
		UserID:      &userID,
		AccountType: models.AccountTypeUser,
		Scopes:      []scopes.Scope{scopes.MantarrayBase},
	})
	require.NoError(t, err)

	other := NewTokenService("another-secret", "curibio:services")
	_, err = other.Decode(signed)
	require.Error(t, err)
}

func TestDecodeRejectsWrongAudience(t *testing.T) {
	userID := uuid.New()
	signed, err := newTestService().Create(TokenParams{
		CustomerID:  uuid.New(),
		UserID:      &userID,
		AccountType: models.AccountTypeUser,
		Scopes:      []scopes.Scope{scopes.MantarrayBase},
	})
	require.NoError(t, err)

	other := NewTokenService("test-secret", "other:audience")
	_, err = other.Decode(signed)
	require.Error(t, err)
}

func TestUserTokenConstraints(t *testing.T) {
	svc := newTestService()

	t.Run("userid required", func(t *testing.T) {
		_, err := svc.Create(TokenParams{
			CustomerID:  uuid.New(),
			AccountType: models.AccountTypeUser,
			Scopes:      []scopes.Scope{scopes.MantarrayBase},
		})
		require.ErrorIs(t, err, ErrMissingUserID)
	})

	t.Run("admin scopes forbidden", func(t *testing.T) {
		userID := uuid.New()
		_, err := svc.Create(TokenParams{
			CustomerID:  uuid.New(),
			UserID:      &userID,
			AccountType: models.AccountTypeUser,
			Scopes:      []scopes.Scope{scopes.MantarrayAdmin},
		})
		require.ErrorIs(t, err, ErrAdminScopeOnUser)
	})
}

func TestAdminTokenConstraints(t *testing.T) {
	svc := newTestService()
	userID := uuid.New()

	_, err := svc.Create(TokenParams{
		CustomerID:  uuid.New(),
		UserID:      &userID,
		AccountType: models.AccountTypeAdmin,
		Scopes:      []scopes.Scope{scopes.MantarrayAdmin},
	})
	require.ErrorIs(t, err, ErrUserIDOnAdmin)
}

func TestAccountTokenConstraints(t *testing.T) {
	svc := newTestService()
	userID := uuid.New()

	t.Run("single account scope allowed", func(t *testing.T) {
		signed, err := svc.Create(TokenParams{
			CustomerID:  uuid.New(),
			UserID:      &userID,
			AccountType: models.AccountTypeUser,
			Scopes:      []scopes.Scope{scopes.UserVerify},
		})
		require.NoError(t, err)

		claims, err := svc.Decode(signed)
		require.NoError(t, err)
		require.Empty(t, claims.Fingerprint)
	})

	t.Run("fingerprint forbidden", func(t *testing.T) {
		_, hashed, err := NewFingerprint()
		require.NoError(t, err)
		_, err = svc.Create(TokenParams{
			CustomerID:  uuid.New(),
			UserID:      &userID,
			AccountType: models.AccountTypeUser,
			Scopes:      []scopes.Scope{scopes.UserVerify},
			Fingerprint: hashed,
		})
		require.ErrorIs(t, err, ErrAccountToken)
	})

	t.Run("extra scopes forbidden", func(t *testing.T) {
		_, err := svc.Create(TokenParams{
			CustomerID:  uuid.New(),
			UserID:      &userID,
			AccountType: models.AccountTypeUser,
			Scopes:      []scopes.Scope{scopes.UserVerify, scopes.MantarrayBase},
		})
		require.ErrorIs(t, err, ErrAccountToken)
	})
}

func TestRefreshTokenScopes(t *testing.T) {
	svc := newTestService()

	_, err := svc.Create(TokenParams{
		CustomerID:  uuid.New(),
		AccountType: models.AccountTypeAdmin,
		Scopes:      []scopes.Scope{scopes.MantarrayAdmin},
		Refresh:     true,
	})
	require.ErrorIs(t, err, ErrRefreshScopes)

	signed, err := svc.Create(TokenParams{
		CustomerID:  uuid.New(),
		AccountType: models.AccountTypeAdmin,
		Refresh:     true,
	})
	require.NoError(t, err)

	claims, err := svc.Decode(signed)
	require.NoError(t, err)
	require.Equal(t, []scopes.Scope{scopes.Refresh}, claims.Scopes)
	require.True(t, claims.Refresh)
}

func TestCreatePairSharesFingerprint(t *testing.T) {
	svc := newTestService()
	userID := uuid.New()

	pair, err := svc.CreatePair(uuid.New(), &userID, models.AccountTypeUser,
		[]scopes.Scope{scopes.MantarrayBase})
	require.NoError(t, err)
	require.NotEmpty(t, pair.Fingerprint)

	access, err := svc.Decode(pair.Access)
	require.NoError(t, err)
	refresh, err := svc.Decode(pair.Refresh)
	require.NoError(t, err)

	require.Equal(t, access.Fingerprint, refresh.Fingerprint)
	require.Equal(t, HashFingerprint(pair.Fingerprint), access.Fingerprint)
	require.Equal(t, []scopes.Scope{scopes.Refresh}, refresh.Scopes)
}

func TestProtectedAny(t *testing.T) {
	svc := newTestService()
	mw := NewMiddleware(svc)
	userID := uuid.New()

	handler := mw.ProtectedAny(scopes.MantarrayBase, scopes.MantarrayAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NotNil(t, ClaimsFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

	pair, err := svc.CreatePair(uuid.New(), &userID, models.AccountTypeUser,
		[]scopes.Scope{scopes.MantarrayBase})
	require.NoError(t, err)

	doRequest := func(token, cookie string) int {
		r := httptest.NewRequest(http.MethodGet, "/uploads", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		if cookie != "" {
			r.AddCookie(&http.Cookie{Name: FingerprintCookie, Value: cookie})
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	t.Run("valid token and cookie", func(t *testing.T) {
		require.Equal(t, http.StatusOK, doRequest(pair.Access, pair.Fingerprint))
	})

	t.Run("missing token", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, doRequest("", pair.Fingerprint))
	})

	t.Run("missing fingerprint cookie", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, doRequest(pair.Access, ""))
	})

	t.Run("wrong fingerprint cookie", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, doRequest(pair.Access, "deadbeef"))
	})

	t.Run("scope mismatch", func(t *testing.T) {
		other, err := svc.CreatePair(uuid.New(), &userID, models.AccountTypeUser,
			[]scopes.Scope{scopes.NautilaiBase})
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, doRequest(other.Access, other.Fingerprint))
	})
}
