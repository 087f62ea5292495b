package repositories

import (
	"chat-relay/domain"
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"
)

const (
	fieldIndexConversation = "conversation"
	fieldIndexContent      = "content"
	fieldIndexSender       = "sender"
	fieldIndexID           = "_id"
)

// SearchIndex is a full-text index over message content.
// Document IDs are the history keys, so hits resolve straight back to BadgerDB.
type SearchIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewSearchIndex(writer *bluge.Writer, log *slog.Logger) *SearchIndex {
	return &SearchIndex{writer: writer, log: log}
}

func (s *SearchIndex) Index(key, conversation string, record domain.Record) error {
	doc := bluge.NewDocument(key).
		AddField(bluge.NewKeywordField(fieldIndexConversation, conversation)).
		AddField(bluge.NewKeywordField(fieldIndexSender, record.Sender).StoreValue()).
		AddField(bluge.NewTextField(fieldIndexContent, record.Content))
	return s.writer.Update(doc.ID(), doc)
}

// Search returns the history keys matching text inside one conversation, best match first.
func (s *SearchIndex) Search(ctx context.Context, conversation, text string, limit int) ([]string, error) {
	query := bluge.NewBooleanQuery().AddMust(
		bluge.NewMatchQuery(text).SetField(fieldIndexContent),
		bluge.NewTermQuery(conversation).SetField(fieldIndexConversation),
	)
	return s.collect(ctx, bluge.NewTopNSearch(limit, query))
}

func (s *SearchIndex) DeleteConversation(ctx context.Context, conversation string) error {
	query := bluge.NewTermQuery(conversation).SetField(fieldIndexConversation)
	keys, err := s.collect(ctx, bluge.NewAllMatches(query))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	batch := bluge.NewBatch()
	for _, key := range keys {
		batch.Delete(bluge.Identifier(key))
	}
	s.log.Debug("Removing conversation from index", "conversation", conversation, "documents", len(keys))
	return s.writer.Batch(batch)
}

func (s *SearchIndex) collect(ctx context.Context, request bluge.SearchRequest) ([]string, error) {
	reader, err := s.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	matches, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}
	var keys []string
	match, err := matches.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == fieldIndexID {
				keys = append(keys, string(value))
				return false
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		match, err = matches.Next()
	}
	return keys, err
}

func (s *SearchIndex) Close() error {
	return s.writer.Close()
}
