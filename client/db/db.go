// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import "context"

// DB is an interface that must be satisfied by a wallet client persistent
// storage manager. Only small client-local facts live here: the browser
// identity and its signing secret, the seen-transaction map, recent
// notifications, and arbitrary app data. Balances, keyrings, and transactions
// are backend state and are never persisted client-side.
type DB interface {
	// Run blocks until the context is canceled, at which point the DB is
	// closed.
	Run(ctx context.Context)
	// Store allows the storage of arbitrary data.
	Store(k string, v []byte) error
	// Get retrieves values stored with Store.
	Get(k string) ([]byte, error)
	// ValueExists checks if a value was previously stored.
	ValueExists(k string) (bool, error)
	// Identity retrieves the stored browser identity. A nil identity with a
	// nil error means none has been created yet.
	Identity() (*BrowserIdentity, error)
	// SaveIdentity stores the browser identity. The secret lands in an
	// isolated bucket, separate from general app data.
	SaveIdentity(*BrowserIdentity) error
	// SeenTxs retrieves the seen-transaction map. An unreadable or corrupt
	// map is discarded and reported as empty, never as an error.
	SeenTxs() (SeenTxMap, error)
	// SaveSeenTxs stores the seen-transaction map wholesale.
	SaveSeenTxs(SeenTxMap) error
	// SaveNotification saves the notification.
	SaveNotification(*Notification) error
	// NotificationsN reads out the N most recent notifications.
	NotificationsN(int) ([]*Notification, error)
	// AckNotification sets the acknowledgement for a notification.
	AckNotification(id []byte) error
	// Backup makes a copy of the database.
	Backup() error
}
