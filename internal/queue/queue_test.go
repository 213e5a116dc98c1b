package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/scopes"
)

func TestNameAndParse(t *testing.T) {
	require.Equal(t, "pulse3d-v1.0.0", Name("pulse3d", "1.0.0"))

	product, version, err := Parse("pulse3d-v1.0.0")
	require.NoError(t, err)
	require.Equal(t, "pulse3d", product)
	require.Equal(t, "1.0.0", version)

	// product names may themselves contain the separator
	product, version, err = Parse("advanced-v2-v0.3.1")
	require.NoError(t, err)
	require.Equal(t, "advanced-v2", product)
	require.Equal(t, "0.3.1", version)

	for _, bad := range []string{"pulse3d", "pulse3d-v", "-v1.0.0", ""} {
		_, _, err := Parse(bad)
		require.Error(t, err, "queue name %q", bad)
	}
}

func TestScopeFilter(t *testing.T) {
	customerID := uuid.New()
	userID := uuid.New()

	t.Run("admin sees whole customer", func(t *testing.T) {
		claims := &auth.Claims{
			CustomerID:  customerID,
			AccountType: models.AccountTypeAdmin,
			Scopes:      []scopes.Scope{scopes.Pulse3DAdmin},
		}
		where, args := scopeFilter(claims, "pulse3d")
		require.Equal(t, "customer_id = $1", where)
		require.Equal(t, []any{customerID}, args)
	})

	t.Run("rw_all_data user sees whole customer", func(t *testing.T) {
		claims := &auth.Claims{
			CustomerID:  customerID,
			UserID:      &userID,
			AccountType: models.AccountTypeUser,
			Scopes:      []scopes.Scope{scopes.Pulse3DBase, scopes.Pulse3DRWAllData},
		}
		where, args := scopeFilter(claims, "pulse3d")
		require.Equal(t, "customer_id = $1", where)
		require.Equal(t, []any{customerID}, args)
	})

	t.Run("rw_all_data on another product does not widen", func(t *testing.T) {
		claims := &auth.Claims{
			CustomerID:  customerID,
			UserID:      &userID,
			AccountType: models.AccountTypeUser,
			Scopes:      []scopes.Scope{scopes.Pulse3DBase, scopes.NautilaiRWAllData},
		}
		where, args := scopeFilter(claims, "pulse3d")
		require.Equal(t, "customer_id = $1 AND user_id = $2", where)
		require.Equal(t, []any{customerID, userID}, args)
	})

	t.Run("base user sees own rows only", func(t *testing.T) {
		claims := &auth.Claims{
			CustomerID:  customerID,
			UserID:      &userID,
			AccountType: models.AccountTypeUser,
			Scopes:      []scopes.Scope{scopes.Pulse3DBase},
		}
		where, args := scopeFilter(claims, "pulse3d")
		require.Equal(t, "customer_id = $1 AND user_id = $2", where)
		require.Equal(t, []any{customerID, userID}, args)
	})
}
