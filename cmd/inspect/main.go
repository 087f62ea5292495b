package main

import (
	"chat-relay/domain"
	"chat-relay/internal"
	"chat-relay/repositories"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/history", "Path to the history badger DB")
	prefix := flag.String("prefix", "", "Key prefix to show (pm: or grp:)")
	port := flag.Int("port", 0, "Serve the badger inspector on this port instead of printing, e.g. 8081")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	walk := func(fn func(key string, record domain.Record) error) error {
		return repositories.WalkHistory(db, fn)
	}

	if *port != 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		database.StartDebugServer(db, *port, "/inspect", HistoryMapper)
		fmt.Printf("Viewer started at http://localhost:%d/inspect\n", *port)
		<-ctx.Done()
		return
	}

	rows, err := internal.CollectRows(walk, *prefix)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Conversation", "Timestamp", "Seq", "Kind", "Sender", "Target", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, row := range rows {
		table.Append([]string{row.Conversation, row.Timestamp, row.Sequence, row.Kind, row.Sender, row.Target, row.Detail})
	}
	table.Render()
	fmt.Printf("%d record(s)\n", len(rows))
}

// HistoryMapper renders history values in the debug server. Other keys
// (badger sequences) keep the default rendering.
func HistoryMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	if !strings.HasPrefix(key, "pm:") && !strings.HasPrefix(key, "grp:") {
		return row
	}
	record, err := repositories.DecodeRecord(val)
	if err != nil {
		row.Detail = "Error: decode failed"
		return row
	}
	row.Type = strings.ToUpper(string(record.Kind))
	row.Detail = fmt.Sprintf("%s -> %s: %s", record.Sender, record.Target, record.Content)
	return row
}

// openDB opens the store read-only so a running server keeps its lock.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
