package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/ManuelReschke/SubLedger/internal/pkg/database"
	"github.com/ManuelReschke/SubLedger/internal/pkg/env"
	"github.com/ManuelReschke/SubLedger/internal/pkg/ledgerarchive"
	"github.com/gofiber/fiber/v2/log"
)

// ledger-archive exports the subscription ledger for [from, to) to S3. By
// default it archives the previous UTC day. With -stdout the JSON lines are
// written to standard output instead.
func main() {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	fromFlag := flag.String("from", today.AddDate(0, 0, -1).Format(time.DateOnly), "window start (YYYY-MM-DD or RFC3339, inclusive)")
	toFlag := flag.String("to", today.Format(time.DateOnly), "window end (YYYY-MM-DD or RFC3339, exclusive)")
	stdout := flag.Bool("stdout", false, "write JSON lines to stdout instead of uploading")
	flag.Parse()

	from, err := parseTime(*fromFlag)
	if err != nil {
		log.Fatalf("[LedgerArchive] Invalid -from: %v", err)
	}
	to, err := parseTime(*toFlag)
	if err != nil {
		log.Fatalf("[LedgerArchive] Invalid -to: %v", err)
	}

	env.SetupEnvFile()
	cfg, err := ledgerarchive.LoadConfig()
	if err != nil {
		log.Fatalf("[LedgerArchive] %v", err)
	}
	database.SetupDatabase()
	repos := repository.NewRepositories(database.GetDB())

	ctx, cancel := context.WithTimeout(context.Background(), env.GetEnvDuration("LEDGER_ARCHIVE_TIMEOUT", 10*time.Minute))
	defer cancel()

	if *stdout {
		rows, err := ledgerarchive.NewExporter(repos.History, nil, cfg).WriteJSONL(ctx, os.Stdout, from, to)
		if err != nil {
			log.Fatalf("[LedgerArchive] Export failed after %d rows: %v", rows, err)
		}
		log.Infof("[LedgerArchive] Wrote %d rows", rows)
		return
	}

	client, err := ledgerarchive.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("[LedgerArchive] %v", err)
	}
	res, err := ledgerarchive.NewExporter(repos.History, client, cfg).Export(ctx, from, to)
	if err != nil {
		log.Fatalf("[LedgerArchive] Export failed: %v", err)
	}
	log.Infof("[LedgerArchive] Archived %d rows to %s", res.Rows, res.Key)
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}
