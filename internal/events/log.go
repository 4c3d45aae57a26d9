package events

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"shardrun/pkg/logging"
)

// EventName identifies one entry type in the session event log.
type EventName string

const (
	SessionStarted  EventName = "session_started"
	PhaseStart      EventName = "phase_start"
	PhaseFinished   EventName = "phase_finished"
	ShardStarted    EventName = "shard_started"
	ShardFinished   EventName = "shard_finished"
	TemplateReady   EventName = "template_ready"
	CleanupDone     EventName = "cleanup_done"
	SessionFinished EventName = "session_finished"
)

// Log is an append-only newline-delimited JSON event log. Every entry
// carries a timestamp and event name plus arbitrary fields. Writes are
// best-effort: an unwritable log never fails the session.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates or appends to the event log at path. A nil *Log is safe to
// emit to, so callers may ignore the error and keep running.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

// Emit appends one event. Field maps are shallow-merged under the reserved
// ts/event keys.
func (l *Log) Emit(name EventName, fields map[string]interface{}) {
	if l == nil {
		return
	}
	entry := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["event"] = string(name)

	data, err := json.Marshal(entry)
	if err != nil {
		logging.Warn("events", "Could not marshal event %s: %v", name, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		logging.Warn("events", "Could not append event %s: %v", name, err)
	}
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
