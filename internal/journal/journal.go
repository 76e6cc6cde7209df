// Package journal appends per-cycle step outcomes to an NDJSON file under
// home, giving operators a replayable trace of what each cycle did.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Entry is one journaled step outcome.
type Entry struct {
	Time    time.Time `json:"time"`
	Cycle   int64     `json:"cycle"`
	Step    string    `json:"step"`
	Outcome string    `json:"outcome"` // "ok" or "error"
	Detail  string    `json:"detail,omitempty"`
	Elapsed float64   `json:"elapsed_sec"`
}

// Journal appends entries to <home>/journal.ndjson.
type Journal struct {
	Home string
}

func Path(home string) string {
	return filepath.Join(home, "journal.ndjson")
}

// Append writes one entry. A zero Time is stamped with the current UTC time.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := os.MkdirAll(j.Home, 0o755); err != nil {
		return fmt.Errorf("create home: %w", err)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(Path(j.Home), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Tail returns up to limit most recent entries, oldest first. A limit of 0
// returns everything.
func (j *Journal) Tail(ctx context.Context, limit int) ([]Entry, error) {
	data, err := os.ReadFile(Path(j.Home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			break
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
