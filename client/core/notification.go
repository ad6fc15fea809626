// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"zenx.org/zenxw/client/db"
)

// notify sends a notification to all subscribers. If the notification is of
// sufficient severity, it is stored in the database.
func (c *Core) notify(n *db.Notification) {
	if n.Severity() >= db.Success {
		if err := c.db.SaveNotification(n); err != nil {
			c.log.Errorf("error saving notification: %v", err)
		}
	}
	c.noteMtx.RLock()
	for _, ch := range c.noteChans {
		select {
		case ch <- n:
		default:
			c.log.Errorf("blocking notification channel")
		}
	}
	c.noteMtx.RUnlock()
}

// notifyErr emits a Poke-severity note recording a fire-and-forget failure.
// Swallowed errors still leave an auditable trail this way.
func (c *Core) notifyErr(noteType, subject string, err error) {
	c.log.Warnf("%s: %v", subject, err)
	n := db.NewNotification(noteType, subject, err.Error(), db.Poke)
	c.notify(&n)
}

// NotificationFeed returns a new receiving channel for notifications. The
// channel has capacity 16, and should be monitored for the lifetime of the
// Core. Blocking channels are silently ignored.
func (c *Core) NotificationFeed() <-chan *db.Notification {
	ch := make(chan *db.Notification, 16)
	c.noteMtx.Lock()
	c.noteChans = append(c.noteChans, ch)
	c.noteMtx.Unlock()
	return ch
}

// Notifications reads out the N most recent persisted notifications.
func (c *Core) Notifications(n int) ([]*db.Notification, error) {
	return c.db.NotificationsN(n)
}

// AckNotes sets the acknowledgement field for the notifications.
func (c *Core) AckNotes(ids [][]byte) {
	for _, id := range ids {
		if err := c.db.AckNotification(id); err != nil {
			c.log.Errorf("error saving notification acknowledgement for %x: %v", id, err)
		}
	}
}
