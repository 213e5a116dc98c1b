package accounts

import "golang.org/x/crypto/bcrypt"

// passwordHistoryLen bounds how many old hashes a row retains.
const passwordHistoryLen = 5

// CheckPasswordHistory rejects a candidate password matching any of the
// given bcrypt hashes.
func CheckPasswordHistory(password string, hashes []string) error {
	for _, h := range hashes {
		if h == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(password)) == nil {
			return ErrPasswordReuse
		}
	}
	return nil
}

// PushPasswordHistory prepends the retiring hash and trims the ring to
// its bound, dropping the oldest entries.
func PushPasswordHistory(history []string, retiring string) []string {
	out := append([]string{retiring}, history...)
	if len(out) > passwordHistoryLen {
		out = out[:passwordHistoryLen]
	}
	return out
}
