// Package domain contains core concepts of the chat system.
// This file defines the persisted message record.
// Records are immutable once stored.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindPrivate Kind = "private"
	KindGroup   Kind = "group"
)

// UnknownSender is used when a request carries neither a bound session nor a sender.
const UnknownSender = "unknown"

// Record is one stored message. Target is the recipient for private messages
// and the group name for group messages.
type Record struct {
	ID      uuid.UUID
	At      time.Time
	Kind    Kind
	Sender  string
	Target  string
	IsGroup bool
	Content string
}

func NewPrivateRecord(sender, recipient, content string, at time.Time) Record {
	return Record{
		ID:      uuid.New(),
		At:      at,
		Kind:    KindPrivate,
		Sender:  sender,
		Target:  recipient,
		IsGroup: false,
		Content: content,
	}
}

func NewGroupRecord(sender, group, content string, at time.Time) Record {
	return Record{
		ID:      uuid.New(),
		At:      at,
		Kind:    KindGroup,
		Sender:  sender,
		Target:  group,
		IsGroup: true,
		Content: content,
	}
}

// Line renders the record the way history listings print it.
func (r Record) Line() string {
	ts := r.At.Format(time.DateTime)
	if r.IsGroup {
		return fmt.Sprintf("[%s] %s in %s: %s", ts, r.Sender, r.Target, r.Content)
	}
	return fmt.Sprintf("[%s] %s -> %s: %s", ts, r.Sender, r.Target, r.Content)
}
