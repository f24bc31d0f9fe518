package broadcaster

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/synapsestrike/tradeops/clock"
)

// snapshotRecord is the NDJSON schema from spec §6: {ts, event, key, data}.
type snapshotRecord struct {
	Timestamp string `json:"ts"`
	Event     string `json:"event"`
	Key       string `json:"key,omitempty"`
	Data      any    `json:"data"`
}

// snapshotWriter appends one NDJSON line per event to a date-rotated file,
// asynchronously (spec §4.6 step 5), so a slow disk never stalls the fan-out
// path. A single background goroutine owns the file handle and serializes
// writes; callers only ever push onto a buffered channel.
type snapshotWriter struct {
	dir string
	clk clock.Clock
	log zerolog.Logger

	records chan snapshotRecord
	done    chan struct{}

	closeOnce sync.Once
}

func newSnapshotWriter(dir string, clk clock.Clock, log zerolog.Logger) *snapshotWriter {
	w := &snapshotWriter{
		dir:     dir,
		clk:     clk,
		log:     log,
		records: make(chan snapshotRecord, 256),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *snapshotWriter) append(ev Event) {
	rec := snapshotRecord{
		Timestamp: w.clk.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Event:     ev.Name,
		Key:       ev.Key,
		Data:      ev.Data,
	}
	select {
	case w.records <- rec:
	default:
		w.log.Warn().Str("event", ev.Name).Msg("snapshot queue full, dropping record")
	}
}

func (w *snapshotWriter) run() {
	defer close(w.done)

	var (
		file       *os.File
		currentDay string
	)
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	for rec := range w.records {
		day := w.clk.Now().UTC().Format("2006-01-02")
		if day != currentDay {
			if file != nil {
				file.Close()
			}
			if err := os.MkdirAll(w.dir, 0o755); err != nil {
				w.log.Error().Err(err).Msg("snapshot dir create failed")
				file = nil
				currentDay = ""
				continue
			}
			path := filepath.Join(w.dir, "reco_"+day+".ndjson")
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				w.log.Error().Err(err).Str("path", path).Msg("snapshot file open failed")
				file = nil
				currentDay = ""
				continue
			}
			file = f
			currentDay = day
		}

		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		line = append(line, '\n')
		if _, err := file.Write(line); err != nil {
			w.log.Error().Err(err).Msg("snapshot write failed")
		}
	}
}

func (w *snapshotWriter) close() {
	w.closeOnce.Do(func() {
		close(w.records)
	})
	<-w.done
}
