package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Form actions that carry their own token.
const (
	ActionSettingsForm  = "settings-form"
	ActionLicense       = "license-action"
	nonceTick           = 12 * time.Hour
	nonceSignatureBytes = 16
)

// Nonces issues and checks request-forgery tokens. A token is bound to an
// action and a site and stays valid for between 12 and 24 hours.
type Nonces struct {
	secret []byte
	now    func() time.Time
}

func NewNonces(secret string) *Nonces {
	return &Nonces{secret: []byte(secret), now: time.Now}
}

// Issue returns a token for action on site.
func (n *Nonces) Issue(action, siteID string) string {
	return n.sign(action, siteID, n.tick())
}

// Verify accepts tokens from the current or the previous tick.
func (n *Nonces) Verify(token, action, siteID string) bool {
	if token == "" {
		return false
	}
	tick := n.tick()
	for _, t := range []int64{tick, tick - 1} {
		if hmac.Equal([]byte(token), []byte(n.sign(action, siteID, t))) {
			return true
		}
	}
	return false
}

func (n *Nonces) tick() int64 {
	return n.now().Unix() / int64(nonceTick/time.Second)
}

func (n *Nonces) sign(action, siteID string, tick int64) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write([]byte(action))
	mac.Write([]byte{0})
	mac.Write([]byte(siteID))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(tick, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:nonceSignatureBytes])
}
