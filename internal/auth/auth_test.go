package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNonces(t *testing.T) {
	now := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	n := NewNonces("nonce-test-secret")
	n.now = func() time.Time { return now }

	token := n.Issue(ActionSettingsForm, "site-1")
	assert.True(t, n.Verify(token, ActionSettingsForm, "site-1"))

	t.Run("bound to action", func(t *testing.T) {
		assert.False(t, n.Verify(token, ActionLicense, "site-1"))
	})
	t.Run("bound to site", func(t *testing.T) {
		assert.False(t, n.Verify(token, ActionSettingsForm, "site-2"))
	})
	t.Run("empty rejected", func(t *testing.T) {
		assert.False(t, n.Verify("", ActionSettingsForm, "site-1"))
	})
	t.Run("valid through next tick", func(t *testing.T) {
		n.now = func() time.Time { return now.Add(13 * time.Hour) }
		assert.True(t, n.Verify(token, ActionSettingsForm, "site-1"))
	})
	t.Run("expired after two ticks", func(t *testing.T) {
		n.now = func() time.Time { return now.Add(25 * time.Hour) }
		assert.False(t, n.Verify(token, ActionSettingsForm, "site-1"))
	})
}

func TestAdminCheck(t *testing.T) {
	// low cost keeps the test fast
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	a := Admin{User: "admin", PasswordHash: string(hash)}
	assert.True(t, a.Check("admin", "s3cret"))
	assert.False(t, a.Check("admin", "wrong"))
	assert.False(t, a.Check("root", "s3cret"))
}
