package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	privatePrefix  = "pm:"
	groupPrefix    = "grp:"
	sequenceKey    = "seq:history"
	sequenceLeases = 100
)

var keyEncoding = base64.RawURLEncoding

type HistoryRepository struct {
	db            *badger.DB
	seq           *badger.Sequence
	index         contract.ISearchIndex
	log           *slog.Logger
	limitMessages *int
}

// NewHistoryRepository opens the insertion sequence used to break timestamp ties.
// index may be nil, in which case Search reports the store as unavailable.
func NewHistoryRepository(db *badger.DB, log *slog.Logger, limitMessages *int, index contract.ISearchIndex) (*HistoryRepository, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceLeases)
	if err != nil {
		return nil, err
	}
	return &HistoryRepository{db: db, seq: seq, index: index, log: log, limitMessages: limitMessages}, nil
}

// PrivateConversation names the conversation between two users, whatever the order.
func PrivateConversation(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return privatePrefix + keyEncoding.EncodeToString([]byte(userA)) + "." + keyEncoding.EncodeToString([]byte(userB))
}

func GroupConversation(group string) string {
	return groupPrefix + keyEncoding.EncodeToString([]byte(group))
}

func conversationOf(r domain.Record) string {
	if r.IsGroup {
		return GroupConversation(r.Target)
	}
	return PrivateConversation(r.Sender, r.Target)
}

// Append persists a record in BadgerDB.
// The key is formatted as "{conversation}:{timestamp_padded}:{sequence_padded}":
// timestamps are zero padded to 19 digits so lexicographic order is time order,
// and the sequence keeps insertion order between records of the same nanosecond.
func (h *HistoryRepository) Append(_ context.Context, record domain.Record) error {
	n, err := h.seq.Next()
	if err != nil {
		return err
	}
	conversation := conversationOf(record)
	key := fmt.Sprintf("%s:%019d:%020d", conversation, record.At.UnixNano(), n)
	err = h.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encodeRecord(record))
	})
	if err != nil {
		return err
	}
	if h.index != nil {
		if err := h.index.Index(key, conversation, record); err != nil {
			h.log.Warn("Unable to index message", "key", key, "error", err)
		}
	}
	return nil
}

func (h *HistoryRepository) QueryPrivate(_ context.Context, userA, userB string) ([]domain.Record, error) {
	return h.query(PrivateConversation(userA, userB))
}

func (h *HistoryRepository) QueryGroup(_ context.Context, group string) ([]domain.Record, error) {
	return h.query(GroupConversation(group))
}

// query scans one conversation. With a limit, it walks backwards from the
// newest key and keeps the last N records, returned in ascending order.
func (h *HistoryRepository) query(conversation string) ([]domain.Record, error) {
	prefix := []byte(conversation + ":")
	var records []domain.Record
	err := h.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = h.limitMessages != nil
		it := txn.NewIterator(options)
		defer it.Close()

		if options.Reverse {
			// 0xFF sorts after every digit, so this lands on the newest key
			it.Seek(append(slices.Clone(prefix), 0xFF))
		} else {
			it.Seek(prefix)
		}
		for ; it.ValidForPrefix(prefix); it.Next() {
			if h.limitMessages != nil && len(records) == *h.limitMessages {
				h.log.Debug(fmt.Sprintf("Maximum of %d message reached", *h.limitMessages))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				record, err := decodeRecord(value)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if h.limitMessages != nil {
		slices.Reverse(records)
	}
	return records, nil
}

// DeleteGroup drops the whole history of a group. Other conversations are untouched.
func (h *HistoryRepository) DeleteGroup(ctx context.Context, group string) error {
	conversation := GroupConversation(group)
	if err := h.db.DropPrefix([]byte(conversation + ":")); err != nil {
		return err
	}
	if h.index != nil {
		return h.index.DeleteConversation(ctx, conversation)
	}
	return nil
}

// Search resolves the index hits of one conversation back to stored records.
// Results come back in ascending timestamp order.
func (h *HistoryRepository) Search(ctx context.Context, query domain.SearchQuery) ([]domain.Record, error) {
	if h.index == nil {
		return nil, fmt.Errorf("%w: search index disabled", errors.ErrStoreUnavailable)
	}
	conversation := PrivateConversation(query.UserA, query.UserB)
	if query.IsGroup() {
		conversation = GroupConversation(query.Group)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = domain.DefaultSearchLimit
	}
	keys, err := h.index.Search(ctx, conversation, query.Text, limit)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)

	var records []domain.Record
	err = h.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(value []byte) error {
				record, err := decodeRecord(value)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

// Walk visits every stored record, conversation by conversation.
func (h *HistoryRepository) Walk(fn func(key string, record domain.Record) error) error {
	return WalkHistory(h.db, fn)
}

// WalkHistory is Walk over a database opened without a repository,
// such as a read-only copy.
func WalkHistory(db *badger.DB, fn func(key string, record domain.Record) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasPrefix(key, privatePrefix) && !strings.HasPrefix(key, groupPrefix) {
				continue
			}
			var record domain.Record
			err := it.Item().Value(func(value []byte) error {
				var err error
				record, err = decodeRecord(value)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(key, record); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close returns the unused sequence leases.
func (h *HistoryRepository) Close() error {
	return h.seq.Release()
}
