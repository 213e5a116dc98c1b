package accounts

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashOf(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestCheckPasswordHistory(t *testing.T) {
	hashes := []string{hashOf(t, "current"), hashOf(t, "old-one"), hashOf(t, "old-two")}

	require.NoError(t, CheckPasswordHistory("brand-new", hashes))
	require.ErrorIs(t, CheckPasswordHistory("current", hashes), ErrPasswordReuse)
	require.ErrorIs(t, CheckPasswordHistory("old-two", hashes), ErrPasswordReuse)
	require.NoError(t, CheckPasswordHistory("anything", []string{""}))
}

func TestPushPasswordHistory(t *testing.T) {
	var history []string
	for _, h := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		history = PushPasswordHistory(history, h)
	}

	require.Len(t, history, passwordHistoryLen)
	// newest first, oldest evicted
	require.Equal(t, []string{"h6", "h5", "h4", "h3", "h2"}, history)
}
