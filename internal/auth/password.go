package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// Hash returns a bcrypt hash of the password. addonctl uses it to produce
// ADMIN_PASSWORD_HASH.
func Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(b), err
}

// Verify reports whether password matches the stored bcrypt hash.
func Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Admin checks basic-auth credentials for the settings screens.
type Admin struct {
	User         string
	PasswordHash string
}

// Check reports whether user/password are the configured admin.
func (a Admin) Check(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.User)) == 1
	// always run bcrypt so a wrong user costs the same as a wrong password
	passOK := Verify(a.PasswordHash, password)
	return userOK && passOK
}
