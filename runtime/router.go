package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Delivery is the outcome of a private send.
// Live is false when the recipient had no connection, the message is then only stored.
type Delivery struct {
	Record   domain.Record
	Live     bool
	StoreErr error
	Censored []string
}

// GroupDelivery is the outcome of a group send.
type GroupDelivery struct {
	Record    domain.Record
	Delivered int
	Members   []string
	StoreErr  error
	Censored  []string
}

// Router applies the chat rules on top of the Registry and the history store.
// It never touches a transport: pushes go through each member's Sink.
type Router struct {
	log       *slog.Logger
	registry  *Registry
	store     contract.IHistoryStore
	moderator contract.IModerator
	stats     *observability.Stats
	now       func() time.Time
}

// NewRouter wires the router. moderator may be nil when moderation is disabled.
func NewRouter(
	log *slog.Logger,
	registry *Registry,
	store contract.IHistoryStore,
	moderator contract.IModerator,
	stats *observability.Stats,
) *Router {
	return &Router{
		log:       log,
		registry:  registry,
		store:     store,
		moderator: moderator,
		stats:     stats,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ResolveSender picks the effective sender of a message: the user bound to the
// request's session, then the user bound to the connection's session, then the
// explicit sender, then UnknownSender.
func (r *Router) ResolveSender(sessionID, connectionSession, explicit string) string {
	for _, id := range []string{sessionID, connectionSession} {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		if username, ok := r.registry.Username(id); ok {
			return username
		}
	}
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return domain.UnknownSender
}

func (r *Router) Register(sessionID, username string) (Registration, error) {
	registration, err := r.registry.Register(sessionID, username)
	if err != nil {
		return Registration{}, err
	}
	if !registration.Refreshed {
		r.stats.IncrRegistrations()
		r.log.Info("User registered", "user", registration.Username, "session", registration.SessionID)
	}
	return registration, nil
}

func (r *Router) Attach(username string, sink contract.Sink) {
	r.registry.Attach(username, sink)
}

// Detach reports whether sink was still the live connection of username.
func (r *Router) Detach(username string, sink contract.Sink) bool {
	detached := r.registry.Detach(username, sink)
	if detached {
		r.log.Debug("Connection detached", "user", username)
	}
	return detached
}

// Disconnect forgets the session entirely, presence included.
func (r *Router) Disconnect(sessionID string) {
	if username, ok := r.registry.Unregister(sessionID); ok {
		r.log.Info("User left", "user", username, "session", sessionID)
	}
}

// SendPrivate stores the message first then pushes it if the recipient is live.
// Unknown recipients are not rejected: the message waits in history.
func (r *Router) SendPrivate(ctx context.Context, sender, recipient, content string) (Delivery, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return Delivery{}, errors.ErrNameRequired
	}
	if strings.TrimSpace(content) == "" {
		return Delivery{}, fmt.Errorf("%w: message is empty", errors.ErrMalformedRequest)
	}
	content, censored := r.moderate(content)

	record := domain.NewPrivateRecord(sender, recipient, content, r.now())
	delivery := Delivery{Record: record, Censored: censored, StoreErr: r.persist(ctx, record)}
	r.stats.IncrPrivateMessages()

	if sink, ok := r.registry.Sink(recipient); ok {
		delivery.Live = r.push(ctx, recipient, sink, domain.PrivateNotification(record))
	}
	return delivery, nil
}

// SendGroup stores the message then pushes it to every live member but the sender.
func (r *Router) SendGroup(ctx context.Context, sender, group, content string) (GroupDelivery, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return GroupDelivery{}, errors.ErrNameRequired
	}
	if strings.TrimSpace(content) == "" {
		return GroupDelivery{}, fmt.Errorf("%w: message is empty", errors.ErrMalformedRequest)
	}
	recipients, members, err := r.registry.Recipients(group, sender)
	if err != nil {
		return GroupDelivery{}, err
	}
	content, censored := r.moderate(content)

	record := domain.NewGroupRecord(sender, group, content, r.now())
	delivery := GroupDelivery{Record: record, Members: members, Censored: censored, StoreErr: r.persist(ctx, record)}
	r.stats.IncrGroupMessages()

	notification := domain.GroupNotification(record)
	for _, recipient := range recipients {
		if r.push(ctx, recipient.Username, recipient.Sink, notification) {
			delivery.Delivered++
		}
	}
	return delivery, nil
}

func (r *Router) CreateGroup(name string, requested ...string) ([]string, error) {
	members, err := r.registry.CreateGroup(name, requested...)
	if err != nil {
		return nil, err
	}
	r.log.Info("Group created", "group", name, "members", members)
	return members, nil
}

func (r *Router) OpenGroup(name string) error {
	return r.registry.OpenGroup(name)
}

func (r *Router) JoinGroup(name, username string) ([]string, error) {
	return r.registry.JoinGroup(name, username)
}

// DeleteGroup removes the group then drops its history.
// A history failure is logged and never fails the deletion.
func (r *Router) DeleteGroup(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := r.registry.DeleteGroup(name); err != nil {
		return err
	}
	if err := r.store.DeleteGroup(ctx, name); err != nil {
		r.stats.IncrStoreFailures()
		r.log.Warn("Unable to delete group history", "group", name, "error", err)
	}
	r.log.Info("Group deleted", "group", name)
	return nil
}

func (r *Router) PrivateHistory(ctx context.Context, userA, userB string) ([]domain.Record, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, errors.ErrNameRequired
	}
	records, err := r.store.QueryPrivate(ctx, userA, userB)
	if err != nil {
		return nil, r.unavailable(err)
	}
	return records, nil
}

func (r *Router) GroupHistory(ctx context.Context, group string) ([]domain.Record, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return nil, errors.ErrNameRequired
	}
	records, err := r.store.QueryGroup(ctx, group)
	if err != nil {
		return nil, r.unavailable(err)
	}
	return records, nil
}

func (r *Router) Search(ctx context.Context, query domain.SearchQuery) ([]domain.Record, error) {
	if strings.TrimSpace(query.Text) == "" {
		return nil, fmt.Errorf("%w: text is empty", errors.ErrMalformedRequest)
	}
	if !query.IsGroup() && (query.UserA == "" || query.UserB == "") {
		return nil, errors.ErrNameRequired
	}
	records, err := r.store.Search(ctx, query)
	if err != nil {
		return nil, r.unavailable(err)
	}
	return records, nil
}

func (r *Router) Users() []string {
	return r.registry.Users()
}

func (r *Router) Groups() []domain.Group {
	return r.registry.Groups()
}

func (r *Router) Counts() Counts {
	return r.registry.Counts()
}

func (r *Router) moderate(content string) (string, []string) {
	if r.moderator == nil {
		return content, nil
	}
	moderated := r.moderator.Moderate(content)
	if len(moderated.Censored) > 0 {
		r.stats.IncrCensored()
		r.log.Debug("Message censored", "words", moderated.Censored, "lang", moderated.Lang)
	}
	return moderated.Content, moderated.Censored
}

// persist never fails the send: the error is returned for the caller to surface.
func (r *Router) persist(ctx context.Context, record domain.Record) error {
	if err := r.store.Append(ctx, record); err != nil {
		r.stats.IncrStoreFailures()
		r.log.Error("Unable to store message", "sender", record.Sender, "target", record.Target, "error", err)
		return r.unavailable(err)
	}
	return nil
}

func (r *Router) push(ctx context.Context, username string, sink contract.Sink, n domain.Notification) bool {
	if err := sink.Push(ctx, n); err != nil {
		r.stats.IncrPushesDropped()
		r.log.Warn("Push not delivered", "user", username, "error", err)
		return false
	}
	r.stats.IncrPushesDelivered()
	return true
}

func (r *Router) unavailable(err error) error {
	if errors.Is(err, errors.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
}
