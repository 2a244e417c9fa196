// Package telemetry implements the kernel's append-only JSONL event stream.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event is a single structured telemetry record; Type is an open string
// enum (adapters and kernel components each contribute their own event
// types), fields after ts/type/issue_id/workcell_id/toolchain are free-form.
type Event struct {
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	IssueID    string         `json:"issue_id,omitempty"`
	WorkcellID string         `json:"workcell_id,omitempty"`
	Toolchain  string         `json:"toolchain,omitempty"`
	Fields     map[string]any `json:"-"`
}

// MarshalJSON renders ts/type/issue_id/workcell_id/toolchain first, then
// flattens Fields alongside them, matching the "fields ordered ts, type, ..."
// contract from spec §6 as closely as encoding/json's key-sort allows.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := map[string]any{
		"ts":   e.TS,
		"type": e.Type,
	}
	if e.IssueID != "" {
		flat["issue_id"] = e.IssueID
	}
	if e.WorkcellID != "" {
		flat["workcell_id"] = e.WorkcellID
	}
	if e.Toolchain != "" {
		flat["toolchain"] = e.Toolchain
	}
	for k, v := range e.Fields {
		flat[k] = v
	}
	return json.Marshal(flat)
}

// Writer appends Events to a per-workcell telemetry.jsonl file, optionally
// mirroring a subset of event types to a process-wide kernel events file.
// Timestamps are monotonic per workcell per spec's invariant.
type Writer struct {
	mu          sync.Mutex
	file        *os.File
	mirror      *os.File
	mirrorTypes map[string]bool
	lastTS      time.Time
	context     Event
}

// Open creates (or appends to) path for writing, optionally mirroring
// events whose Type is in mirrorTypes to mirrorPath.
func Open(path string, mirrorPath string, mirrorTypes map[string]bool, ctx Event) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to open %s: %w", path, err)
	}
	w := &Writer{file: f, mirrorTypes: mirrorTypes, context: ctx}
	if mirrorPath != "" {
		mf, err := os.OpenFile(mirrorPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("telemetry: failed to open mirror %s: %w", mirrorPath, err)
		}
		w.mirror = mf
	}
	return w, nil
}

// Emit appends an event of the given type with the supplied fields,
// stamping the timestamp so it is always >= the previous event's timestamp
// written through this Writer.
func (w *Writer) Emit(eventType string, fields map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	if !w.lastTS.IsZero() && now.Before(w.lastTS) {
		now = w.lastTS
	}
	w.lastTS = now

	ev := Event{
		TS:         now.Format("2006-01-02T15:04:05.000Z"),
		Type:       eventType,
		IssueID:    w.context.IssueID,
		WorkcellID: w.context.WorkcellID,
		Toolchain:  w.context.Toolchain,
		Fields:     fields,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("telemetry: failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("telemetry: failed to write event: %w", err)
	}

	if w.mirror != nil && w.mirrorTypes[eventType] {
		if _, err := w.mirror.Write(data); err != nil {
			return fmt.Errorf("telemetry: failed to write mirror event: %w", err)
		}
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.mirror != nil {
		if cerr := w.mirror.Close(); cerr != nil {
			err = cerr
		}
	}
	if cerr := w.file.Close(); cerr != nil {
		err = cerr
	}
	return err
}
