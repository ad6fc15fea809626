package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/decred/slog"
	"zenx.org/zenxw/client/db"
	"zenx.org/zenxw/zenx"
)

var tLogger = zenx.StdOutLogger("TAUTH", slog.LevelError, true)

// TDB is a stub db.DB for identity storage.
type TDB struct {
	mtx       sync.Mutex
	ident     *db.BrowserIdentity
	identErr  error
	saveErr   error
	saveCount int
}

func (tdb *TDB) Identity() (*db.BrowserIdentity, error) {
	tdb.mtx.Lock()
	defer tdb.mtx.Unlock()
	if tdb.identErr != nil {
		return nil, tdb.identErr
	}
	if tdb.ident == nil {
		return nil, nil
	}
	cp := *tdb.ident
	return &cp, nil
}

func (tdb *TDB) SaveIdentity(ident *db.BrowserIdentity) error {
	tdb.mtx.Lock()
	defer tdb.mtx.Unlock()
	if tdb.saveErr != nil {
		return tdb.saveErr
	}
	cp := *ident
	tdb.ident = &cp
	tdb.saveCount++
	return nil
}

func (tdb *TDB) savedIdentity() *db.BrowserIdentity {
	tdb.mtx.Lock()
	defer tdb.mtx.Unlock()
	return tdb.ident
}

// Unused db.DB methods.
func (tdb *TDB) Run(ctx context.Context)                        {}
func (tdb *TDB) Store(string, []byte) error                     { return nil }
func (tdb *TDB) Get(string) ([]byte, error)                     { return nil, nil }
func (tdb *TDB) ValueExists(string) (bool, error)               { return false, nil }
func (tdb *TDB) SeenTxs() (db.SeenTxMap, error)                 { return nil, nil }
func (tdb *TDB) SaveSeenTxs(db.SeenTxMap) error                 { return nil }
func (tdb *TDB) SaveNotification(*db.Notification) error        { return nil }
func (tdb *TDB) NotificationsN(int) ([]*db.Notification, error) { return nil, nil }
func (tdb *TDB) AckNotification([]byte) error                   { return nil }
func (tdb *TDB) Backup() error                                  { return nil }

func TestSignRequestVector(t *testing.T) {
	tdb := &TDB{ident: &db.BrowserIdentity{
		BrowserID:  "b-test",
		Secret:     "secret",
		Registered: true,
	}}
	a := New(&Config{DB: tdb, Logger: tLogger})

	sig := a.SignRequest("POST", "/api/v1/transactions/transfer", 1700000000, []byte("{}"))
	if len(sig) != 64 {
		t.Fatalf("expected 64-char hex signature, got %d chars", len(sig))
	}
	// The signature must verify against the same inputs...
	err := CheckSignature("secret", "POST", "/api/v1/transactions/transfer", 1700000000, []byte("{}"), sig)
	if err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
	// ...and must not verify when any component changes.
	err = CheckSignature("secret", "POST", "/api/v1/transactions/transfer", 1700000001, []byte("{}"), sig)
	if err == nil {
		t.Fatal("signature verified with altered timestamp")
	}
	err = CheckSignature("secret", "GET", "/api/v1/transactions/transfer", 1700000000, []byte("{}"), sig)
	if err == nil {
		t.Fatal("signature verified with altered method")
	}
}

func TestSignRequestDeterministic(t *testing.T) {
	tdb := &TDB{ident: &db.BrowserIdentity{BrowserID: "b", Secret: "s", Registered: true}}
	a := New(&Config{DB: tdb, Logger: tLogger})
	sig1 := a.SignRequest("GET", "/api/v1/keyrings", 1700000000, nil)
	sig2 := a.SignRequest("GET", "/api/v1/keyrings", 1700000000, nil)
	if sig1 != sig2 {
		t.Fatal("signature not deterministic")
	}
}

func TestConcurrentInit(t *testing.T) {
	tdb := &TDB{}
	var regCount atomic.Int32
	registered := make(chan struct{})
	a := New(&Config{
		DB:     tdb,
		Logger: tLogger,
		Register: func(browserID, secret string) error {
			if regCount.Add(1) == 1 {
				close(registered)
			}
			return nil
		},
	})

	const numCallers = 16
	secrets := make([]string, numCallers)
	var wg sync.WaitGroup
	for i := 0; i < numCallers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secrets[i] = a.GetOrCreateSecret()
		}(i)
	}
	wg.Wait()

	for i := 1; i < numCallers; i++ {
		if secrets[i] != secrets[0] {
			t.Fatal("concurrent callers received different secrets")
		}
	}
	if len(secrets[0]) != secretLen*2 {
		t.Fatalf("expected %d-char hex secret, got %d chars", secretLen*2, len(secrets[0]))
	}

	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("registration never fired")
	}
	// Give any duplicate registrations a moment to show themselves.
	time.Sleep(50 * time.Millisecond)
	if n := regCount.Load(); n != 1 {
		t.Fatalf("expected exactly 1 registration, got %d", n)
	}

	if tdb.savedIdentity() == nil {
		t.Fatal("identity was not persisted")
	}
}

func TestStorageFailureDegrades(t *testing.T) {
	tdb := &TDB{identErr: fmt.Errorf("disk on fire"), saveErr: fmt.Errorf("still on fire")}
	a := New(&Config{DB: tdb, Logger: tLogger})

	id := a.GetOrCreateBrowserID()
	if id == "" {
		t.Fatal("no browser ID with failing storage")
	}
	// The ephemeral identity must remain stable for the process lifetime.
	if a.GetOrCreateBrowserID() != id {
		t.Fatal("ephemeral browser ID not stable")
	}
	if a.GetOrCreateSecret() == "" {
		t.Fatal("no secret with failing storage")
	}
}

func TestRegistrationRetryNextRun(t *testing.T) {
	// An identity stored without the registered flag triggers registration on
	// first use.
	tdb := &TDB{ident: &db.BrowserIdentity{BrowserID: "b-old", Secret: "s-old"}}
	registered := make(chan string, 1)
	a := New(&Config{
		DB:     tdb,
		Logger: tLogger,
		Register: func(browserID, secret string) error {
			registered <- browserID
			return nil
		},
	})
	a.GetOrCreateBrowserID()
	select {
	case id := <-registered:
		if id != "b-old" {
			t.Fatalf("registered wrong identity %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stored unregistered identity did not trigger registration")
	}
}
