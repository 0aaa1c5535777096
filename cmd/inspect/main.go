// Command inspect dumps the contents of a formflow database for
// offline debugging: forms, session counts by status, and the inbound
// queue backlog.
package main

import (
	"flag"
	"fmt"
	"os"

	"formflow/pkg/logger"
	"formflow/pkg/models"
	"formflow/pkg/queue"
	"formflow/pkg/store"
)

func main() {
	var dbPath, queueDir string
	flag.StringVar(&dbPath, "db", "", "pebble DB path")
	flag.StringVar(&queueDir, "queue", "", "durable queue dir (optional)")
	flag.Parse()
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.InitWithLevel("warn")

	if err := store.Open(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	forms, err := store.ListForms()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list forms: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("forms: %d\n", len(forms))
	for _, f := range forms {
		fields, _ := store.ListFields(f.Key)
		fmt.Printf("  %-20s published=%-5v fields=%d title=%q\n", f.Key, f.Published, len(fields), f.Title)
	}

	for _, status := range []string{models.StatusInProgress, models.StatusCompleted, models.StatusAbandoned} {
		sessions, err := store.ListSessions(status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list sessions: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sessions[%s]: %d\n", status, len(sessions))
	}

	if queueDir != "" {
		q, err := queue.OpenPebble(queueDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open queue %s: %v\n", queueDir, err)
			os.Exit(1)
		}
		defer q.Close()
		depth, _ := q.Len()
		dead, _ := q.DeadLen()
		fmt.Printf("queue: depth=%d dead_letters=%d\n", depth, dead)
	}
}
