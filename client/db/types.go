// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// BrowserIdentity is the locally generated identity used to authenticate API
// requests. The BrowserID is an opaque stable identifier. The Secret is the
// HMAC key registered with the backend; only signatures derived from it ever
// travel over the wire. Registered records whether the one-time backend
// registration is known to have succeeded, so it can be retried on the next
// run if it hasn't.
type BrowserIdentity struct {
	BrowserID  string `json:"browserId"`
	Secret     string `json:"secret"`
	Registered bool   `json:"registered"`
	CreatedAt  int64  `json:"createdAt"`
}

// SeenTxMap records which transaction IDs the user has viewed in the history
// UI. The backend has no concept of "seen", so this map is purely client
// state. It is read and written wholesale.
type SeenTxMap map[string]bool

// Severity indicates the level of required action for a notification. The
// client prompts the user for some action in response to notifications of
// severity >= Success.
type Severity uint8

const (
	Ignorable Severity = iota
	// Data notifications are not meant for the user. These notifications are
	// used only for communication of information necessary for UI updates.
	Data
	// Poke notifications are not persistent across sessions.
	Poke
	// Success and higher are persistent and surfaced to the user.
	Success
	WarningLevel
	ErrorLevel
)

// String satisfies fmt.Stringer for the Severity.
func (s Severity) String() string {
	switch s {
	case Ignorable:
		return "ignore"
	case Data:
		return "data"
	case Poke:
		return "poke"
	case WarningLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	case Success:
		return "success"
	}
	return "unknown severity"
}

// Notification is a user notification. Notifications with severity >= Success
// are saved and retrievable for the lifetime of the client database.
type Notification struct {
	NoteType    string   `json:"type"`
	SubjectText string   `json:"subject"`
	DetailText  string   `json:"details"`
	Severeness  Severity `json:"severity"`
	// TimeStamp is a UNIX timestamp, in milliseconds.
	TimeStamp uint64 `json:"stamp"`
	// Ack and Id are set on retrieval, not stored with the note body.
	Ack bool   `json:"acked"`
	Id  []byte `json:"id"`
}

// NewNotification is a constructor for a Notification. The timestamp is set to
// the current time.
func NewNotification(noteType, subject, details string, severity Severity) Notification {
	return Notification{
		NoteType:    noteType,
		SubjectText: subject,
		DetailText:  details,
		Severeness:  severity,
		TimeStamp:   uint64(time.Now().UnixMilli()),
	}
}

// ID is a unique ID based on a hash of the notification contents.
func (n *Notification) ID() []byte {
	stamp := make([]byte, 8)
	binary.BigEndian.PutUint64(stamp, n.TimeStamp)
	h := sha256.New()
	h.Write([]byte(n.NoteType))
	h.Write([]byte(n.SubjectText))
	h.Write([]byte(n.DetailText))
	h.Write(stamp)
	return h.Sum(nil)
}

// Type is the notification type.
func (n *Notification) Type() string { return n.NoteType }

// Subject is a short description of the notification contents.
func (n *Notification) Subject() string { return n.SubjectText }

// Details should contain more detailed information.
func (n *Notification) Details() string { return n.DetailText }

// Severity is the notification severity.
func (n *Notification) Severity() Severity { return n.Severeness }

// Time is the notification timestamp, a UNIX timestamp in milliseconds.
func (n *Notification) Time() uint64 { return n.TimeStamp }

// Acked is true if the user has acknowledged the notification.
func (n *Notification) Acked() bool { return n.Ack }

// DBNote returns the notification itself, so concrete note types that embed
// Notification can recover the db record.
func (n *Notification) DBNote() *Notification { return n }
