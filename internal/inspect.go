package internal

import (
	"chat-relay/domain"
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"
)

//go:embed inspect.html
var templatesFS embed.FS

// InspectRow is one history record as shown by the inspector.
type InspectRow struct {
	Key          string
	Conversation string
	Timestamp    string
	Sequence     string
	Sender       string
	Target       string
	Kind         string
	Detail       string
}

// HistoryWalker visits stored records in key order.
type HistoryWalker func(fn func(key string, record domain.Record) error) error

type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// ToInspectRow splits a history key "<conversation>:<unixnano>:<seq>" and
// attaches the decoded record.
func ToInspectRow(key string, record domain.Record) InspectRow {
	row := InspectRow{
		Key:          key,
		Conversation: key,
		Timestamp:    "--:--:--",
		Sequence:     "-",
		Sender:       record.Sender,
		Target:       record.Target,
		Kind:         string(record.Kind),
		Detail:       record.Content,
	}
	parts := strings.Split(key, ":")
	if len(parts) >= 4 {
		row.Conversation = strings.Join(parts[:len(parts)-2], ":")
		if nanos, err := strconv.ParseInt(parts[len(parts)-2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, nanos).UTC().Format(time.DateTime)
		}
		if seq, err := strconv.ParseUint(parts[len(parts)-1], 10, 64); err == nil {
			row.Sequence = strconv.FormatUint(seq, 10)
		}
	}
	return row
}

// CollectRows returns every record whose key starts with prefix.
func CollectRows(walk HistoryWalker, prefix string) ([]InspectRow, error) {
	var rows []InspectRow
	err := walk(func(key string, record domain.Record) error {
		if strings.HasPrefix(key, prefix) {
			rows = append(rows, ToInspectRow(key, record))
		}
		return nil
	})
	return rows, err
}

// NewInspectHandler renders the history as an HTML table, filtered by the
// "prefix" query parameter. stats may be nil.
func NewInspectHandler(walk HistoryWalker, stats StatsProvider) http.Handler {
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := PageData{Prefix: r.URL.Query().Get("prefix"), Stats: make(map[string]any)}
		if stats != nil {
			data.Stats = stats()
		}
		rows, err := CollectRows(walk, data.Prefix)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Items = rows
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})
}
