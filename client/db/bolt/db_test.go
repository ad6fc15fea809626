package bolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/decred/slog"
	zenxdb "zenx.org/zenxw/client/db"
	"zenx.org/zenxw/zenx"
)

var (
	tDir     string
	tCounter int
	tLogger  = zenx.StdOutLogger("TBOLT", slog.LevelError, true)
)

func newTestDB(t *testing.T) *BoltDB {
	t.Helper()
	tCounter++
	dbPath := filepath.Join(tDir, fmt.Sprintf("db%d.db", tCounter))
	dbi, err := NewDB(dbPath, tLogger)
	if err != nil {
		t.Fatalf("error creating DB: %v", err)
	}
	db, ok := dbi.(*BoltDB)
	if !ok {
		t.Fatalf("DB is not a *BoltDB")
	}
	return db
}

func TestMain(m *testing.M) {
	doIt := func() int {
		var err error
		tDir, err = os.MkdirTemp("", "dbtest")
		if err != nil {
			fmt.Println("error creating temporary directory:", err)
			return -1
		}
		defer os.RemoveAll(tDir)
		return m.Run()
	}
	os.Exit(doIt())
}

func TestStoreGet(t *testing.T) {
	boltdb := newTestDB(t)
	if err := boltdb.Store("", []byte("nope")); err == nil {
		t.Fatal("no error storing with empty key")
	}
	v := []byte("some value")
	if err := boltdb.Store("some key", v); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	exists, err := boltdb.ValueExists("some key")
	if err != nil {
		t.Fatalf("ValueExists error: %v", err)
	}
	if !exists {
		t.Fatal("stored value not reported as existing")
	}
	reV, err := boltdb.Get("some key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !bytes.Equal(v, reV) {
		t.Fatalf("value mismatch: %x != %x", v, reV)
	}
	if _, err := boltdb.Get("missing key"); err == nil {
		t.Fatal("no error getting missing key")
	}
}

func TestIdentity(t *testing.T) {
	boltdb := newTestDB(t)
	ident, err := boltdb.Identity()
	if err != nil {
		t.Fatalf("Identity error on fresh DB: %v", err)
	}
	if ident != nil {
		t.Fatal("unexpected identity in fresh DB")
	}

	in := &zenxdb.BrowserIdentity{
		BrowserID: "b-1f2e3d",
		Secret:    "deadbeef00112233445566778899aabbccddeeff00112233445566778899aabb",
		CreatedAt: 1726000000000,
	}
	if err := boltdb.SaveIdentity(in); err != nil {
		t.Fatalf("SaveIdentity error: %v", err)
	}
	out, err := boltdb.Identity()
	if err != nil {
		t.Fatalf("Identity error: %v", err)
	}
	if out == nil {
		t.Fatal("no identity retrieved")
	}
	if out.BrowserID != in.BrowserID || out.Secret != in.Secret ||
		out.CreatedAt != in.CreatedAt || out.Registered {
		t.Fatalf("identity mismatch: %+v != %+v", out, in)
	}

	// Flipping the registered flag should round-trip too.
	in.Registered = true
	if err := boltdb.SaveIdentity(in); err != nil {
		t.Fatalf("SaveIdentity update error: %v", err)
	}
	out, err = boltdb.Identity()
	if err != nil {
		t.Fatalf("Identity error after update: %v", err)
	}
	if !out.Registered {
		t.Fatal("registered flag not persisted")
	}

	if err := boltdb.SaveIdentity(&zenxdb.BrowserIdentity{}); err == nil {
		t.Fatal("no error saving identity with empty browser ID")
	}
}

func TestSeenTxs(t *testing.T) {
	boltdb := newTestDB(t)
	seen, err := boltdb.SeenTxs()
	if err != nil {
		t.Fatalf("SeenTxs error on fresh DB: %v", err)
	}
	if len(seen) != 0 {
		t.Fatal("unexpected seen entries in fresh DB")
	}

	in := zenxdb.SeenTxMap{"tx-a": true, "tx-b": true, "tx-c": false}
	if err := boltdb.SaveSeenTxs(in); err != nil {
		t.Fatalf("SaveSeenTxs error: %v", err)
	}
	out, err := boltdb.SeenTxs()
	if err != nil {
		t.Fatalf("SeenTxs error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d entries, got %d", len(in), len(out))
	}
	for txID, isSeen := range in {
		if out[txID] != isSeen {
			t.Fatalf("entry %s mismatch: %t != %t", txID, out[txID], isSeen)
		}
	}

	// Saving again with additional entries accumulates.
	if err := boltdb.SaveSeenTxs(zenxdb.SeenTxMap{"tx-d": true}); err != nil {
		t.Fatalf("SaveSeenTxs append error: %v", err)
	}
	out, _ = boltdb.SeenTxs()
	if !out["tx-a"] || !out["tx-d"] {
		t.Fatal("seen map did not accumulate")
	}
}

func TestNotifications(t *testing.T) {
	boltdb := newTestDB(t)

	poke := zenxdb.NewNotification("order", "sent", "details", zenxdb.Poke)
	if err := boltdb.SaveNotification(&poke); err == nil {
		t.Fatal("no error saving a Poke-severity note")
	}

	numToDo := 10
	notes := make([]*zenxdb.Notification, 0, numToDo)
	for i := 0; i < numToDo; i++ {
		n := zenxdb.NewNotification("transfer", fmt.Sprintf("note %d", i), "", zenxdb.Success)
		n.TimeStamp += uint64(i)
		notes = append(notes, &n)
		if err := boltdb.SaveNotification(&n); err != nil {
			t.Fatalf("SaveNotification error: %v", err)
		}
	}

	fetched, err := boltdb.NotificationsN(3)
	if err != nil {
		t.Fatalf("NotificationsN error: %v", err)
	}
	if len(fetched) != 3 {
		t.Fatalf("expected 3 notes, got %d", len(fetched))
	}
	// Newest first.
	if fetched[0].SubjectText != fmt.Sprintf("note %d", numToDo-1) {
		t.Fatalf("wrong newest note: %s", fetched[0].SubjectText)
	}
	if fetched[0].Ack {
		t.Fatal("unexpected ack on fresh note")
	}

	if err := boltdb.AckNotification(notes[numToDo-1].ID()); err != nil {
		t.Fatalf("AckNotification error: %v", err)
	}
	fetched, _ = boltdb.NotificationsN(1)
	if !fetched[0].Ack {
		t.Fatal("ack not persisted")
	}
}

func TestBackupAndRun(t *testing.T) {
	boltdb := newTestDB(t)
	if err := boltdb.Store("k", []byte("v")); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if err := boltdb.Backup(); err != nil {
		t.Fatalf("Backup error: %v", err)
	}
	backupPath := filepath.Join(filepath.Dir(boltdb.Path()), backupDir, filepath.Base(boltdb.Path()))
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("backup file not found: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		boltdb.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	// The database should be closed now.
	if err := boltdb.Store("k2", []byte("v2")); err == nil {
		t.Fatal("store succeeded on closed database")
	}
}
