package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/scopes"
)

func userClaims(customerID, userID uuid.UUID, expires time.Time) *auth.Claims {
	return &auth.Claims{
		CustomerID:  customerID,
		UserID:      &userID,
		AccountType: models.AccountTypeUser,
		Scopes:      []scopes.Scope{scopes.Pulse3DBase},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

func adminClaims(customerID uuid.UUID, expires time.Time) *auth.Claims {
	return &auth.Claims{
		CustomerID:  customerID,
		AccountType: models.AccountTypeAdmin,
		Scopes:      []scopes.Scope{scopes.Pulse3DAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

func drain(mb *Mailbox) []Message {
	var out []Message
	for {
		select {
		case msg := <-mb.C():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestMailboxDropsOldestWhenFull(t *testing.T) {
	hub := NewHub(3)
	claims := userClaims(uuid.New(), uuid.New(), time.Now().Add(time.Hour))
	mb := hub.Add(claims)

	for i := 0; i < 5; i++ {
		hub.Send(claims.AccountID(), Message{Event: "data_update", Data: fmt.Sprint(i)})
	}

	got := drain(mb)
	require.Len(t, got, 3)
	require.Equal(t, "2", got[0].Data)
	require.Equal(t, "4", got[2].Data)
}

func TestHubSendOnlyReachesConnectedAccounts(t *testing.T) {
	hub := NewHub(8)
	claims := userClaims(uuid.New(), uuid.New(), time.Now().Add(time.Hour))
	mb := hub.Add(claims)

	hub.Send(uuid.New(), Message{Event: "data_update", Data: "elsewhere"})
	require.Empty(t, drain(mb))

	hub.Send(claims.AccountID(), Message{Event: "data_update", Data: "mine"})
	require.Len(t, drain(mb), 1)
}

func TestHubRemoveKeepsNewerConnection(t *testing.T) {
	hub := NewHub(8)
	claims := userClaims(uuid.New(), uuid.New(), time.Now().Add(time.Hour))

	old := hub.Add(claims)
	replacement := hub.Add(claims)

	// the old connection tearing down must not evict the new one
	hub.Remove(claims.AccountID(), old)
	hub.Send(claims.AccountID(), Message{Event: "data_update", Data: "x"})
	require.Len(t, drain(replacement), 1)
}

func TestUpdateTokenRequiresConnection(t *testing.T) {
	hub := NewHub(8)
	claims := userClaims(uuid.New(), uuid.New(), time.Now().Add(-time.Minute))

	require.ErrorIs(t, hub.UpdateToken(claims), ErrNotConnected)

	mb := hub.Add(claims)
	require.True(t, mb.TokenExpired(time.Now()))

	fresh := userClaims(claims.CustomerID, *claims.UserID, time.Now().Add(time.Hour))
	require.NoError(t, hub.UpdateToken(fresh))
	require.False(t, mb.TokenExpired(time.Now()))

	select {
	case <-mb.TokenUpdated():
	default:
		t.Fatal("expected token update signal")
	}
}

func TestPublisherFanOut(t *testing.T) {
	customerID := uuid.New()
	admin := adminClaims(customerID, time.Now().Add(time.Hour))
	owner := userClaims(customerID, uuid.New(), time.Now().Add(time.Hour))
	reader := userClaims(customerID, uuid.New(), time.Now().Add(time.Hour))
	reader.Scopes = append(reader.Scopes, scopes.Pulse3DRWAllData)
	bystander := userClaims(customerID, uuid.New(), time.Now().Add(time.Hour))

	hub := NewHub(8)
	adminMB := hub.Add(admin)
	ownerMB := hub.Add(owner)
	readerMB := hub.Add(reader)
	bystanderMB := hub.Add(bystander)

	// recipients are precomputed by the database trigger: the owning
	// user, the customer's admins, and rw_all_data holders
	payload := map[string]any{
		"table":       "uploads",
		"type":        "pulse3d",
		"id":          uuid.New(),
		"customer_id": customerID,
		"user_id":     *owner.UserID,
		"username":    "owner",
		"recipients":  []uuid.UUID{admin.AccountID(), owner.AccountID(), reader.AccountID()},
		"usage":       map[string]int{"uploads": 4, "jobs": 7},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	pub := NewPublisher(nil, hub)
	pub.Handle(context.Background(), string(raw))

	for name, mb := range map[string]*Mailbox{"admin": adminMB, "owner": ownerMB, "reader": readerMB} {
		msgs := drain(mb)
		require.Len(t, msgs, 2, name)
		require.Equal(t, "data_update", msgs[0].Event, name)
		require.Equal(t, "usage_update", msgs[1].Event, name)

		var data map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(msgs[0].Data), &data))
		require.JSONEq(t, `"pulse3d"`, string(data["product"]))
		require.JSONEq(t, `"uploads"`, string(data["usage_type"]))
		require.NotContains(t, data, "table")
		require.NotContains(t, data, "recipients")

		require.JSONEq(t,
			`{"usage_type":"uploads","product":"pulse3d","usage":{"uploads":4,"jobs":7}}`,
			msgs[1].Data, name)
	}

	// an account outside the recipient set hears nothing at all
	require.Empty(t, drain(bystanderMB))
}

func TestPublisherRejectsUnknownTable(t *testing.T) {
	hub := NewHub(8)
	claims := userClaims(uuid.New(), uuid.New(), time.Now().Add(time.Hour))
	mb := hub.Add(claims)

	pub := NewPublisher(nil, hub)
	pub.Handle(context.Background(),
		fmt.Sprintf(`{"table":"customers","recipients":["%s"],"customer_id":"%s"}`,
			claims.AccountID(), claims.CustomerID))

	require.Empty(t, drain(mb))
}
