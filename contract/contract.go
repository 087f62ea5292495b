//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// It is used for logging during supervision so workers don't need to name themselves.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Sink is the live outbound channel of one connected user.
// Push must not block: implementations queue the notification
// and let the connection's own writer deliver it.
type Sink interface {
	Push(ctx context.Context, n domain.Notification) error
}

// IHistoryStore is the durable, append-only message history.
// Queries return records in ascending timestamp order.
type IHistoryStore interface {
	Append(ctx context.Context, record domain.Record) error
	QueryPrivate(ctx context.Context, userA, userB string) ([]domain.Record, error)
	QueryGroup(ctx context.Context, group string) ([]domain.Record, error)
	DeleteGroup(ctx context.Context, group string) error
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.Record, error)
}

// ISearchIndex maps a conversation's message content to history keys.
type ISearchIndex interface {
	Index(key, conversation string, record domain.Record) error
	Search(ctx context.Context, conversation, text string, limit int) ([]string, error)
	DeleteConversation(ctx context.Context, conversation string) error
	Close() error
}

type IModerator interface {
	Moderate(content string) domain.Moderated
}

// IHealthReporter records which components are currently serving.
type IHealthReporter interface {
	Serving(component string)
	NotServing(component string)
}
