// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	zenxdb "zenx.org/zenxw/client/db"
	"zenx.org/zenxw/zenx"

	"go.etcd.io/bbolt"
)

// Bolt works on []byte keys and values. These are some commonly used key and
// value encodings.
var (
	appBucket      = []byte("appBucket")
	identityBucket = []byte("identity")
	secretsBucket  = []byte("secrets")
	seenTxsBucket  = []byte("seenTxs")
	notesBucket    = []byte("notes")
	browserIDKey   = []byte("browserID")
	registeredKey  = []byte("registered")
	createdKey     = []byte("created")
	secretKey      = []byte("secret")
	noteKey        = []byte("note")
	stampKey       = []byte("stamp")
	severityKey    = []byte("severity")
	ackKey         = []byte("ack")
	byteTrue       = []byte{1}
	byteFalse      = []byte{0}
	backupDir      = "backup"
)

var log zenx.Logger

// BoltDB is a bbolt-based database backend for the wallet client. BoltDB
// satisfies the db.DB interface defined at zenx.org/zenxw/client/db.
type BoltDB struct {
	*bbolt.DB
}

// Check that BoltDB satisfies the db.DB interface.
var _ zenxdb.DB = (*BoltDB)(nil)

// NewDB is a constructor for a *BoltDB.
func NewDB(dbPath string, logger zenx.Logger) (zenxdb.DB, error) {
	log = logger
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	bdb := &BoltDB{
		DB: db,
	}

	return bdb, bdb.makeTopLevelBuckets([][]byte{appBucket, identityBucket,
		secretsBucket, seenTxsBucket, notesBucket})
}

// Run waits for context cancellation and closes the database.
func (db *BoltDB) Run(ctx context.Context) {
	<-ctx.Done()
	err := db.Backup()
	if err != nil {
		log.Errorf("unable to backup database: %v", err)
	}
	db.Close()
}

// Store stores a value at the specified key in the general-use bucket.
func (db *BoltDB) Store(k string, v []byte) error {
	if len(k) == 0 {
		return fmt.Errorf("cannot store with empty key")
	}
	keyB := []byte(k)
	return db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(appBucket)
		if err != nil {
			return fmt.Errorf("failed to create key bucket")
		}
		return bucket.Put(keyB, v)
	})
}

// ValueExists checks if a value was previously stored in the general-use
// bucket at the specified key.
func (db *BoltDB) ValueExists(k string) (bool, error) {
	var exists bool
	return exists, db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(appBucket)
		if bucket == nil {
			return fmt.Errorf("app bucket not found")
		}
		exists = bucket.Get([]byte(k)) != nil
		return nil
	})
}

// Get retrieves value previously stored with Store.
func (db *BoltDB) Get(k string) ([]byte, error) {
	var v []byte
	keyB := []byte(k)
	return v, db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(appBucket)
		if bucket == nil {
			return fmt.Errorf("app bucket not found")
		}
		v = bucket.Get(keyB)
		if v == nil {
			return fmt.Errorf("no value found for %s", k)
		}
		return nil
	})
}

// Identity retrieves the stored browser identity. The identifier and metadata
// live in the identity bucket, while the signing secret is kept in the
// separate secrets bucket. A nil identity with a nil error means no identity
// has been created yet.
func (db *BoltDB) Identity() (*zenxdb.BrowserIdentity, error) {
	var ident *zenxdb.BrowserIdentity
	return ident, db.View(func(tx *bbolt.Tx) error {
		idBkt := tx.Bucket(identityBucket)
		if idBkt == nil {
			return fmt.Errorf("identity bucket not found")
		}
		idB := idBkt.Get(browserIDKey)
		if idB == nil {
			return nil
		}
		ident = &zenxdb.BrowserIdentity{
			BrowserID:  string(idB),
			Registered: bytes.Equal(idBkt.Get(registeredKey), byteTrue),
		}
		if createdB := idBkt.Get(createdKey); len(createdB) == 8 {
			ident.CreatedAt = int64(binary.BigEndian.Uint64(createdB))
		}
		secretsBkt := tx.Bucket(secretsBucket)
		if secretsBkt == nil {
			return fmt.Errorf("secrets bucket not found")
		}
		ident.Secret = string(secretsBkt.Get(secretKey))
		return nil
	})
}

// SaveIdentity stores the browser identity, splitting the secret into the
// secrets bucket.
func (db *BoltDB) SaveIdentity(ident *zenxdb.BrowserIdentity) error {
	if ident.BrowserID == "" {
		return fmt.Errorf("empty browser ID not allowed")
	}
	createdB := make([]byte, 8)
	binary.BigEndian.PutUint64(createdB, uint64(ident.CreatedAt))
	registeredB := byteFalse
	if ident.Registered {
		registeredB = byteTrue
	}
	return db.Update(func(tx *bbolt.Tx) error {
		idBkt := tx.Bucket(identityBucket)
		if idBkt == nil {
			return fmt.Errorf("identity bucket not found")
		}
		err := newBucketPutter(idBkt).
			put(browserIDKey, []byte(ident.BrowserID)).
			put(registeredKey, registeredB).
			put(createdKey, createdB).
			err()
		if err != nil {
			return err
		}
		secretsBkt := tx.Bucket(secretsBucket)
		if secretsBkt == nil {
			return fmt.Errorf("secrets bucket not found")
		}
		return secretsBkt.Put(secretKey, []byte(ident.Secret))
	})
}

// SeenTxs loads the seen-transaction map. Entries that cannot be interpreted
// are skipped; the map is a UX nicety, not a ledger, so corruption is
// discarded rather than surfaced.
func (db *BoltDB) SeenTxs() (zenxdb.SeenTxMap, error) {
	seen := make(zenxdb.SeenTxMap)
	return seen, db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(seenTxsBucket)
		if bucket == nil {
			return fmt.Errorf("seen tx bucket not found")
		}
		return bucket.ForEach(func(k, v []byte) error {
			if len(k) == 0 {
				return nil
			}
			seen[string(k)] = bytes.Equal(v, byteTrue)
			return nil
		})
	})
}

// SaveSeenTxs stores the seen-transaction map. Only decided entries are
// written. Seen IDs are never un-seen, so there is no need to delete keys.
func (db *BoltDB) SaveSeenTxs(seen zenxdb.SeenTxMap) error {
	return db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(seenTxsBucket)
		if bucket == nil {
			return fmt.Errorf("seen tx bucket not found")
		}
		for txID, isSeen := range seen {
			v := byteFalse
			if isSeen {
				v = byteTrue
			}
			if err := bucket.Put([]byte(txID), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveNotification saves the notification.
func (db *BoltDB) SaveNotification(note *zenxdb.Notification) error {
	if note.Severeness < zenxdb.Success {
		return fmt.Errorf("storage of notification with severity %s is forbidden", note.Severeness)
	}
	return db.notesUpdate(func(master *bbolt.Bucket) error {
		noteB, err := json.Marshal(note)
		if err != nil {
			return fmt.Errorf("error encoding notification: %w", err)
		}
		k := note.ID()
		noteBkt, err := master.CreateBucketIfNotExists(k)
		if err != nil {
			return err
		}
		err = noteBkt.Put(stampKey, uint64Bytes(note.TimeStamp))
		if err != nil {
			return err
		}
		err = noteBkt.Put(severityKey, []byte{byte(note.Severeness)})
		if err != nil {
			return err
		}
		return noteBkt.Put(noteKey, noteB)
	})
}

// AckNotification sets the acknowledgement for a notification.
func (db *BoltDB) AckNotification(id []byte) error {
	return db.notesUpdate(func(master *bbolt.Bucket) error {
		noteBkt := master.Bucket(id)
		if noteBkt == nil {
			return fmt.Errorf("notification not found")
		}
		return noteBkt.Put(ackKey, byteTrue)
	})
}

// NotificationsN reads out the N most recent notifications.
func (db *BoltDB) NotificationsN(n int) ([]*zenxdb.Notification, error) {
	notes := make([]*zenxdb.Notification, 0, n)
	return notes, db.notesView(func(master *bbolt.Bucket) error {
		pairs := newestBuckets(master, n, stampKey, nil)
		for _, pair := range pairs {
			noteBkt := master.Bucket(pair.k)
			note := new(zenxdb.Notification)
			if err := json.Unmarshal(noteBkt.Get(noteKey), note); err != nil {
				return err
			}
			note.Ack = bytes.Equal(noteBkt.Get(ackKey), byteTrue)
			note.Id = note.ID()
			notes = append(notes, note)
		}
		return nil
	})
}

// notesView is a convenience function to read from the notifications bucket.
func (db *BoltDB) notesView(f bucketFunc) error {
	return db.withBucket(notesBucket, db.View, f)
}

// notesUpdate is a convenience function for updating the notifications bucket.
func (db *BoltDB) notesUpdate(f bucketFunc) error {
	return db.withBucket(notesBucket, db.Update, f)
}

// newestBuckets gets the nested buckets with the highest timestamp from the
// specified master bucket. The nested bucket should have an encoded uint64 at
// the timeKey. An optional filter function can be used to reject buckets.
func newestBuckets(master *bbolt.Bucket, n int, timeKey []byte, filter func(*bbolt.Bucket) bool) []*keyTimePair {
	idx := newTimeIndexNewest(n)
	master.ForEach(func(k, _ []byte) error {
		bkt := master.Bucket(k)
		stamp := binary.BigEndian.Uint64(bkt.Get(timeKey))
		if filter == nil || filter(bkt) {
			idx.add(stamp, k)
		}
		return nil
	})
	return idx.pairs
}

// makeTopLevelBuckets creates a top-level bucket for each of the provided keys,
// if the bucket doesn't already exist.
func (db *BoltDB) makeTopLevelBuckets(buckets [][]byte) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// withBucket creates a view into a bucket. The viewer can be read-only
// (db.View), or read-write (db.Update). The provided bucketFunc will be called
// with the requested bucket as its only argument.
func (db *BoltDB) withBucket(bkt []byte, viewer txFunc, f bucketFunc) error {
	return viewer(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bkt)
		if bucket == nil {
			return fmt.Errorf("failed to open %s bucket", string(bkt))
		}
		return f(bucket)
	})
}

// Backup makes a copy of the database.
func (db *BoltDB) Backup() error {
	dir := filepath.Join(filepath.Dir(db.Path()), backupDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err := os.Mkdir(dir, 0700)
		if err != nil {
			return fmt.Errorf("unable to create backup directory: %v", err)
		}
	}

	path := filepath.Join(dir, filepath.Base(db.Path()))
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
	return err
}

// bucketPutter enables chained calls to (*bbolt.Bucket).Put with error
// deferment.
type bucketPutter struct {
	bucket *bbolt.Bucket
	putErr error
}

// newBucketPutter is a constructor for a bucketPutter.
func newBucketPutter(bkt *bbolt.Bucket) *bucketPutter {
	return &bucketPutter{bucket: bkt}
}

// put calls Put on the underlying bucket. If an error has been encountered in
// a previous call to put, nothing is done. put returns the *bucketPutter to
// enable chaining.
func (bp *bucketPutter) put(k, v []byte) *bucketPutter {
	if bp.putErr != nil {
		return bp
	}
	bp.putErr = bp.bucket.Put(k, v)
	return bp
}

// Return any put error encountered.
func (bp *bucketPutter) err() error {
	return bp.putErr
}

// uint64Bytes encodes the uint64 as big-endian bytes, suitable for use as a
// sortable bolt key or value.
func uint64Bytes(i uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, i)
	return b
}

// keyTimePair is used to build an on-the-fly time-sorted index.
type keyTimePair struct {
	k []byte
	t uint64
}

// timeIndexNewest is a struct used to build an index of sorted keyTimePairs.
// The index can have a maximum capacity. If the capacity is set to zero, the
// index size is unlimited.
type timeIndexNewest struct {
	pairs []*keyTimePair
	cap   int
}

// Create a new *timeIndexNewest, with the specified capacity.
func newTimeIndexNewest(n int) *timeIndexNewest {
	return &timeIndexNewest{
		pairs: make([]*keyTimePair, 0, n),
		cap:   n,
	}
}

// Conditionally add a time-key pair to the index. The pair will only be added
// if the timeIndexNewest is under capacity or the time t is larger than the
// oldest pair's time.
func (idx *timeIndexNewest) add(t uint64, k []byte) {
	count := len(idx.pairs)
	if idx.cap == 0 || count < idx.cap {
		idx.pairs = append(idx.pairs, &keyTimePair{
			// Need to make a copy, and []byte(k) upsets the linter.
			k: append([]byte(nil), k...),
			t: t,
		})
	} else {
		// non-zero length, at capacity.
		if t <= idx.pairs[count-1].t {
			// Too old. Discard.
			return
		}
		idx.pairs[count-1] = &keyTimePair{
			k: append([]byte(nil), k...),
			t: t,
		}
	}
	sort.Slice(idx.pairs, func(i, j int) bool {
		return idx.pairs[i].t > idx.pairs[j].t
	})
}

// A couple of common bbolt functions.
type bucketFunc func(*bbolt.Bucket) error
type txFunc func(func(*bbolt.Tx) error) error
