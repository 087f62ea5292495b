package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the stored record message.
const (
	fieldID      protowire.Number = 1
	fieldAt      protowire.Number = 2
	fieldKind    protowire.Number = 3
	fieldSender  protowire.Number = 4
	fieldTarget  protowire.Number = 5
	fieldIsGroup protowire.Number = 6
	fieldContent protowire.Number = 7
)

// encodeRecord writes a record using the protobuf wire format.
// Empty strings and false booleans are omitted like proto3 defaults.
func encodeRecord(r domain.Record) []byte {
	var b []byte
	b = appendString(b, fieldID, r.ID.String())
	b = protowire.AppendTag(b, fieldAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.At.UnixNano()))
	b = appendString(b, fieldKind, string(r.Kind))
	b = appendString(b, fieldSender, r.Sender)
	b = appendString(b, fieldTarget, r.Target)
	if r.IsGroup {
		b = protowire.AppendTag(b, fieldIsGroup, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	b = appendString(b, fieldContent, r.Content)
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// DecodeRecord decodes a stored history value, for tools reading the raw store.
func DecodeRecord(b []byte) (domain.Record, error) {
	return decodeRecord(b)
}

// decodeRecord reads a record written by encodeRecord. Unknown fields are skipped.
func decodeRecord(b []byte) (domain.Record, error) {
	var r domain.Record
	var id string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.Record{}, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType && isStringField(num):
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return domain.Record{}, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, protowire.ParseError(m))
			}
			switch num {
			case fieldID:
				id = v
			case fieldKind:
				r.Kind = domain.Kind(v)
			case fieldSender:
				r.Sender = v
			case fieldTarget:
				r.Target = v
			case fieldContent:
				r.Content = v
			}
			b = b[m:]
		case typ == protowire.VarintType && (num == fieldAt || num == fieldIsGroup):
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return domain.Record{}, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, protowire.ParseError(m))
			}
			if num == fieldAt {
				r.At = time.Unix(0, int64(v)).UTC()
			} else {
				r.IsGroup = protowire.DecodeBool(v)
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return domain.Record{}, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	if id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return domain.Record{}, err
		}
		r.ID = parsed
	}
	return r, nil
}

func isStringField(num protowire.Number) bool {
	switch num {
	case fieldID, fieldKind, fieldSender, fieldTarget, fieldContent:
		return true
	}
	return false
}
