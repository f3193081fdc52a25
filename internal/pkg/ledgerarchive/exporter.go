// Package ledgerarchive exports the subscription ledger to object storage as
// JSON lines, one file per time window.
package ledgerarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ManuelReschke/SubLedger/app/repository"
	"github.com/gofiber/fiber/v2/log"
)

// Result summarizes one export run.
type Result struct {
	Key  string
	Rows int
}

// Exporter pages through the ledger and uploads it.
type Exporter struct {
	history  repository.HistoryRepository
	uploader Uploader
	cfg      *Config
}

func NewExporter(history repository.HistoryRepository, uploader Uploader, cfg *Config) *Exporter {
	return &Exporter{history: history, uploader: uploader, cfg: cfg}
}

// Export writes every ledger row created in [from, to) to one object. An empty
// window uploads nothing.
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (*Result, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("invalid window: %s is not after %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	rows, err := e.WriteJSONL(ctx, &buf, from, to)
	if err != nil {
		return nil, err
	}
	res := &Result{Key: e.cfg.ObjectKey(from, to), Rows: rows}
	if rows == 0 {
		log.Infof("[LedgerArchive] No ledger rows between %s and %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
		return res, nil
	}

	if err := e.uploader.Upload(ctx, res.Key, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return nil, err
	}
	log.Infof("[LedgerArchive] Uploaded %d rows to %s", rows, res.Key)
	return res, nil
}

// WriteJSONL encodes the window to w, one history row per line.
func (e *Exporter) WriteJSONL(ctx context.Context, w io.Writer, from, to time.Time) (int, error) {
	enc := json.NewEncoder(w)
	rows := 0
	for offset := 0; ; offset += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		batch, err := e.history.ListCreatedBetween(from, to, offset, e.cfg.BatchSize)
		if err != nil {
			return rows, fmt.Errorf("list ledger rows: %w", err)
		}
		for i := range batch {
			if err := enc.Encode(&batch[i]); err != nil {
				return rows, fmt.Errorf("encode ledger row %s: %w", batch[i].ID, err)
			}
			rows++
		}
		if len(batch) < e.cfg.BatchSize {
			return rows, nil
		}
	}
}
