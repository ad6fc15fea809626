// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package auth manages the client's anonymous browser identity and signs API
// requests with it. The identity is a stable random identifier plus a
// high-entropy secret. The secret is registered with the backend exactly once;
// thereafter only HMAC signatures derived from it are transmitted.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"zenx.org/zenxw/client/db"
	"zenx.org/zenxw/zenx"
)

// secretLen is the size in bytes of a generated signing secret. The secret is
// hex-encoded wherever it appears as a string.
const secretLen = 32

// RegisterFunc associates a (browserID, secret) pair with the backend. The
// call is best-effort. A non-nil error leaves the identity unregistered so a
// later caller retries.
type RegisterFunc func(browserID, secret string) error

// Config is the configuration for an Authenticator.
type Config struct {
	// DB is the durable identity store. A nil DB, or one that errors, demotes
	// the identity to ephemeral in-memory state rather than failing callers.
	DB db.DB
	// Register is invoked once per identity lifetime, from GetOrCreateSecret.
	Register RegisterFunc
	Logger   zenx.Logger
}

// Authenticator creates and holds the browser identity and computes request
// signatures. All methods are safe for concurrent use.
type Authenticator struct {
	db       db.DB
	register RegisterFunc
	log      zenx.Logger

	initFlight singleflight.Group

	mtx   sync.RWMutex
	ident *db.BrowserIdentity
}

// New constructs an Authenticator. No storage access happens until the first
// identity request.
func New(cfg *Config) *Authenticator {
	return &Authenticator{
		db:       cfg.DB,
		register: cfg.Register,
		log:      cfg.Logger,
	}
}

// SetRegisterFunc sets the registration callback after construction, for
// wirings where the API client that performs registration is itself built
// with this Authenticator. Set it before the first identity use; an identity
// minted with no callback in place stays unregistered until the next run.
func (a *Authenticator) SetRegisterFunc(f RegisterFunc) {
	a.mtx.Lock()
	a.register = f
	a.mtx.Unlock()
}

// GetOrCreateBrowserID returns the stable browser identifier, generating and
// persisting one if absent. Storage and entropy failures degrade to a weaker
// ephemeral identifier instead of an error. A wallet that cannot prove who it
// is can still show balances.
func (a *Authenticator) GetOrCreateBrowserID() string {
	ident := a.loadIdentity()
	return ident.BrowserID
}

// GetOrCreateSecret returns the stable hex-encoded signing secret, generating,
// persisting, and registering one if absent. Concurrent callers share a single
// in-flight initialization, so the backend sees at most one registration per
// identity.
func (a *Authenticator) GetOrCreateSecret() string {
	ident := a.loadIdentity()
	return ident.Secret
}

// SignRequest computes the hex-encoded HMAC-SHA256 signature over the
// canonical string METHOD\nPATH\nTIMESTAMP\nBODY, keyed with the current
// secret. timestamp is unix seconds. body is the raw JSON request body, or nil
// for body-less requests.
func (a *Authenticator) SignRequest(method, path string, timestamp int64, body []byte) string {
	return Sign(a.GetOrCreateSecret(), method, path, timestamp, body)
}

// Sign computes the hex-encoded HMAC-SHA256 signature over the canonical
// string METHOD\nPATH\nTIMESTAMP\nBODY with the provided secret as key.
func Sign(secret, method, path string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(path))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// loadIdentity returns the cached identity, loading or creating it as needed.
// Exactly one goroutine performs the load/create; the rest await its result.
func (a *Authenticator) loadIdentity() *db.BrowserIdentity {
	a.mtx.RLock()
	ident := a.ident
	a.mtx.RUnlock()
	if ident != nil {
		return ident
	}

	v, _, _ := a.initFlight.Do("identity", func() (any, error) {
		return a.initIdentity(), nil
	})
	return v.(*db.BrowserIdentity)
}

// initIdentity loads the stored identity or mints a new one. Never errors.
func (a *Authenticator) initIdentity() *db.BrowserIdentity {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.ident != nil {
		return a.ident
	}

	var ident *db.BrowserIdentity
	if a.db != nil {
		var err error
		ident, err = a.db.Identity()
		if err != nil {
			a.log.Errorf("error loading stored identity, continuing with an ephemeral one: %v", err)
			ident = nil
		}
	}

	fresh := ident == nil
	if fresh {
		ident = &db.BrowserIdentity{
			BrowserID: "b-" + randomHex(16),
			Secret:    randomHex(secretLen),
			CreatedAt: time.Now().UnixMilli(),
		}
	}

	if fresh && a.db != nil {
		if err := a.db.SaveIdentity(ident); err != nil {
			a.log.Errorf("error persisting browser identity, it will not survive a restart: %v", err)
		}
	}

	a.ident = ident

	if !ident.Registered && a.register != nil {
		// Best-effort and non-blocking. The caller's actual request proceeds
		// whether or not registration lands.
		go a.registerIdentity(a.register, ident.BrowserID, ident.Secret)
	}
	return ident
}

// registerIdentity performs the one-time backend registration and records
// success.
func (a *Authenticator) registerIdentity(register RegisterFunc, browserID, secret string) {
	if err := register(browserID, secret); err != nil {
		a.log.Warnf("browser registration failed, will retry next run: %v", err)
		return
	}
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.ident == nil || a.ident.BrowserID != browserID {
		return
	}
	a.ident.Registered = true
	if a.db != nil {
		if err := a.db.SaveIdentity(a.ident); err != nil {
			a.log.Errorf("error persisting registration flag: %v", err)
		}
	}
}

// randomHex returns n crypto-random bytes, hex-encoded. If the system entropy
// source fails, a time-seeded fallback is used. Weak randomness beats a dead
// client here, since the identity is an identifier, not a proof of anything.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		rnd := mrand.New(mrand.NewSource(time.Now().UnixNano()))
		for i := range b {
			b[i] = byte(rnd.Intn(256))
		}
	}
	return hex.EncodeToString(b)
}

// CheckSignature verifies a signature produced by SignRequest with the
// provided secret. Used in tests and by any future local verification of
// webhook-style callbacks.
func CheckSignature(secret, method, path string, timestamp int64, body []byte, sig string) error {
	expect, err := hex.DecodeString(Sign(secret, method, path, timestamp, body))
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	if !hmac.Equal(expect, got) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
