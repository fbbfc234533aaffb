package membertrack

import (
	"context"
	"fmt"
	"time"
)

// Source is a paginated upstream observation log. Implementations wrap
// whatever API the observations live behind.
type Source interface {
	// NextPage returns one page of observations starting after cursor.
	// An empty cursor means start from the beginning. A page with an
	// empty NextCursor is the last page.
	NextPage(ctx context.Context, cursor string) (*Page, error)
}

// Page is one batch of observations from a Source.
type Page struct {
	Observations []Observation

	// NextCursor resumes the scan after this page; empty means done.
	NextCursor string
}

// ScanOptions controls a backfill scan.
type ScanOptions struct {
	// Cursor resumes a previous scan; empty starts from the beginning.
	Cursor string

	// PageDelay is the pause between page fetches, to stay under
	// upstream rate limits. Zero means no pause.
	PageDelay time.Duration

	// MaxPages bounds the scan; zero or negative means unbounded.
	MaxPages int
}

// ScanResult reports what a scan did. Cursor is always set to the resume
// position, including on error, so an interrupted scan can pick up where
// it stopped.
type ScanResult struct {
	Pages      int
	Observed   int
	Inserted   int
	Duplicates int
	Skipped    int
	Cursor     string
}

// Scan walks the source page by page, ingesting every observation.
// Because ingestion deduplicates on source id, overlapping or repeated
// scans are safe; re-scanning a fully ingested range only counts
// duplicates. Scan stops early on context cancellation or the first
// source/storage error, returning the partial result.
func (t *Tracker) Scan(ctx context.Context, src Source, opts ScanOptions) (*ScanResult, error) {
	if src == nil {
		return nil, ErrNoSource
	}

	res := &ScanResult{Cursor: opts.Cursor}
	for {
		if opts.MaxPages > 0 && res.Pages >= opts.MaxPages {
			return res, nil
		}

		page, err := src.NextPage(ctx, res.Cursor)
		if err != nil {
			return res, fmt.Errorf("failed to fetch page after %q: %w", res.Cursor, err)
		}
		res.Pages++
		res.Observed += len(page.Observations)
		t.metrics.RecordScanPage(len(page.Observations))

		for _, obs := range page.Observations {
			out, _, err := t.Ingest(ctx, obs)
			if err != nil {
				return res, err
			}
			switch out {
			case IngestInserted:
				res.Inserted++
			case IngestDuplicate:
				res.Duplicates++
			case IngestSkipped:
				res.Skipped++
			}
		}

		t.logger.Debug("scan page processed",
			Field{Key: "page", Value: res.Pages},
			Field{Key: "observations", Value: len(page.Observations)},
			Field{Key: "cursor", Value: page.NextCursor},
		)

		res.Cursor = page.NextCursor
		if page.NextCursor == "" {
			t.logger.Info("scan complete",
				Field{Key: "pages", Value: res.Pages},
				Field{Key: "inserted", Value: res.Inserted},
				Field{Key: "duplicates", Value: res.Duplicates},
				Field{Key: "skipped", Value: res.Skipped},
			)
			return res, nil
		}

		if opts.PageDelay > 0 {
			select {
			case <-time.After(opts.PageDelay):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
	}
}
