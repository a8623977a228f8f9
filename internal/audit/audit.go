// Package audit keeps a bounded in-memory journal of interrogation
// outcomes and streams them as JSON lines to an external writer.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of journal event.
type EventType string

const (
	// EventTypeAccepted represents a file that was rewrapped and written.
	EventTypeAccepted EventType = "accepted"
	// EventTypeRejected represents a file rejected on permanent grounds.
	EventTypeRejected EventType = "rejected"
	// EventTypeFailed represents a transient processing failure.
	EventTypeFailed EventType = "failed"
	// EventTypeRemoved represents an object removed by the cleaner.
	EventTypeRemoved EventType = "removed"
)

// Event is a single journal entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	FileID    uuid.UUID `json:"file_id"`
	Bucket    string    `json:"bucket,omitempty"`
	Object    string    `json:"object,omitempty"`
	// Stage is the pipeline stage at which processing concluded.
	Stage     string        `json:"stage,omitempty"`
	Rewrapped int           `json:"rewrapped_packets,omitempty"`
	Dropped   int           `json:"dropped_packets,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
}

// EventWriter receives every journal event as it is recorded.
type EventWriter interface {
	WriteEvent(event *Event) error
}

// Journal records interrogation outcomes.
type Journal interface {
	Record(event *Event)
	RecordAccepted(fileID uuid.UUID, bucket, object string, rewrapped, dropped int, duration time.Duration)
	RecordRejected(fileID uuid.UUID, bucket, object, stage string, cause error, duration time.Duration)
	RecordFailed(fileID uuid.UUID, bucket, object, stage string, cause error, duration time.Duration)
	RecordRemoved(fileID uuid.UUID, bucket, object string)

	// Recent returns up to n most recent events, newest first.
	Recent(n int) []*Event
}

type journal struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	writer    EventWriter
}

// NewJournal creates a journal retaining at most maxEvents entries.
// A nil writer streams events to stdout as JSON lines.
func NewJournal(maxEvents int, writer EventWriter) Journal {
	if writer == nil {
		writer = &jsonLineWriter{}
	}
	return &journal{
		events:    make([]*Event, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

func (j *journal) Record(event *Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Writer failures must not block the pipeline.
	_ = j.writer.WriteEvent(event)

	j.events = append(j.events, event)
	if len(j.events) > j.maxEvents {
		j.events = j.events[len(j.events)-j.maxEvents:]
	}
}

func (j *journal) RecordAccepted(fileID uuid.UUID, bucket, object string, rewrapped, dropped int, duration time.Duration) {
	j.Record(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeAccepted,
		FileID:    fileID,
		Bucket:    bucket,
		Object:    object,
		Stage:     "reported",
		Rewrapped: rewrapped,
		Dropped:   dropped,
		Duration:  duration,
	})
}

func (j *journal) RecordRejected(fileID uuid.UUID, bucket, object, stage string, cause error, duration time.Duration) {
	event := &Event{
		Timestamp: time.Now(),
		EventType: EventTypeRejected,
		FileID:    fileID,
		Bucket:    bucket,
		Object:    object,
		Stage:     stage,
		Duration:  duration,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	j.Record(event)
}

func (j *journal) RecordFailed(fileID uuid.UUID, bucket, object, stage string, cause error, duration time.Duration) {
	event := &Event{
		Timestamp: time.Now(),
		EventType: EventTypeFailed,
		FileID:    fileID,
		Bucket:    bucket,
		Object:    object,
		Stage:     stage,
		Duration:  duration,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	j.Record(event)
}

func (j *journal) RecordRemoved(fileID uuid.UUID, bucket, object string) {
	j.Record(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeRemoved,
		FileID:    fileID,
		Bucket:    bucket,
		Object:    object,
	})
}

func (j *journal) Recent(n int) []*Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	if n <= 0 || n > len(j.events) {
		n = len(j.events)
	}
	out := make([]*Event, 0, n)
	for i := len(j.events) - 1; i >= len(j.events)-n; i-- {
		out = append(out, j.events[i])
	}
	return out
}

// jsonLineWriter writes events as one JSON object per line.
type jsonLineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONLineWriter creates an EventWriter streaming to out.
func NewJSONLineWriter(out io.Writer) EventWriter {
	return &jsonLineWriter{out: out}
}

func (w *jsonLineWriter) WriteEvent(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal journal event: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		fmt.Printf("%s\n", data)
		return nil
	}
	_, err = fmt.Fprintf(w.out, "%s\n", data)
	return err
}
