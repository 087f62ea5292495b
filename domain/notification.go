package domain

import "time"

// Notification is pushed to a live connection outside the request/response exchange.
// Each transport decides how to encode it.
type Notification struct {
	Kind      Kind
	Sender    string
	Recipient string
	Group     string
	Content   string
	At        time.Time
}

func PrivateNotification(r Record) Notification {
	return Notification{
		Kind:      KindPrivate,
		Sender:    r.Sender,
		Recipient: r.Target,
		Content:   r.Content,
		At:        r.At,
	}
}

func GroupNotification(r Record) Notification {
	return Notification{
		Kind:    KindGroup,
		Sender:  r.Sender,
		Group:   r.Target,
		Content: r.Content,
		At:      r.At,
	}
}
