// Package sources feeds raw log entries into the ingest pipeline,
// either by tailing a live alert file or by generating synthetic
// traffic. Exactly one source runs per process.
package sources

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// IngestFunc submits one raw entry with its source hint.
type IngestFunc func(ctx context.Context, raw, sourceHint string)

const (
	fileWaitInterval = 5 * time.Second
	pollInterval     = 500 * time.Millisecond
	errorBackoff     = 2 * time.Second
)

// Tailer follows an IDS alert file, submitting each complete entry to
// the pipeline. Multi-line alerts are accumulated until a blank line or
// a quiet poll flushes them.
type Tailer struct {
	path   string
	ingest IngestFunc
	logger *zap.Logger

	// hint applied to entries the structured parsers don't claim.
	hint string
}

// NewTailer creates a tailer for path. The source hint is derived from
// the filename: host-IDS logs mention "ossec" or "host", everything
// else is treated as signature-IDS output.
func NewTailer(path string, ingest IngestFunc, logger *zap.Logger) *Tailer {
	hint := "signature_ids"
	lower := strings.ToLower(path)
	if strings.Contains(lower, "ossec") || strings.Contains(lower, "host") {
		hint = "host_ids"
	}
	return &Tailer{
		path:   path,
		ingest: ingest,
		logger: logger,
		hint:   hint,
	}
}

// Run tails the file until ctx is cancelled. The file may not exist
// yet; Run waits for it. Reading starts at the current end so old
// alerts are not replayed, and truncation (log rotation) resets to the
// start of the new file.
func (t *Tailer) Run(ctx context.Context) {
	t.logger.Info("Log tailer starting",
		zap.String("path", t.path),
		zap.String("hint", t.hint),
	)

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(t.path); err == nil {
			break
		}
		t.logger.Info("Waiting for log file", zap.String("path", t.path))
		if !sleep(ctx, fileWaitInterval) {
			return
		}
	}

	var offset int64 = -1 // -1 means seek to end on open
	for ctx.Err() == nil {
		var err error
		offset, err = t.follow(ctx, offset)
		if err != nil {
			t.logger.Warn("Tailer read error; backing off",
				zap.String("path", t.path),
				zap.Error(err),
			)
			if !sleep(ctx, errorBackoff) {
				return
			}
		}
	}
}

// follow reads from offset until an error or cancellation, returning
// the offset the next attempt should resume from.
func (t *Tailer) follow(ctx context.Context, offset int64) (int64, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return offset, err
	}
	defer f.Close()

	if offset < 0 {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			return -1, err
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			return offset, err
		}
		if info.Size() < offset {
			// Rotated or truncated underneath us.
			t.logger.Info("Log file truncated; restarting from beginning",
				zap.String("path", t.path),
			)
			offset = 0
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return offset, err
		}
	}

	var entry []string
	buf := make([]byte, 64*1024)
	var pending string

	flush := func() {
		if len(entry) == 0 {
			return
		}
		raw := strings.TrimSpace(strings.Join(entry, "\n"))
		entry = entry[:0]
		if raw != "" {
			t.ingest(ctx, raw, t.hint)
		}
	}

	for {
		if ctx.Err() != nil {
			flush()
			return offset, nil
		}

		n, err := f.Read(buf)
		if n > 0 {
			offset += int64(n)
			pending += string(buf[:n])
			for {
				line, rest, found := strings.Cut(pending, "\n")
				if !found {
					break
				}
				pending = rest
				if strings.TrimSpace(line) == "" {
					flush()
				} else {
					entry = append(entry, line)
				}
			}
			continue
		}
		if err != nil && err != io.EOF {
			flush()
			return offset, err
		}

		// No new data: a buffered entry is complete.
		flush()

		info, statErr := f.Stat()
		if statErr != nil {
			return offset, statErr
		}
		if info.Size() < offset {
			return offset, nil // reopen and reset in the caller loop
		}
		if !sleep(ctx, pollInterval) {
			return offset, nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
