package events

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Journal persists bus events to JSONL files, one file per user. It is the
// audit trail behind the in-memory history ring: the ring answers recent
// queries, the journal survives restarts.
type Journal struct {
	dir         string
	unsubscribe func()
}

// NewJournal subscribes to all bus events and appends them under dir.
func NewJournal(dir string, bus *Bus) *Journal {
	j := &Journal{dir: dir}
	j.unsubscribe = bus.Subscribe(j.handleEvent)
	return j
}

// Close unsubscribes the journal from the event bus.
func (j *Journal) Close() {
	if j.unsubscribe != nil {
		j.unsubscribe()
	}
}

func (j *Journal) handleEvent(e Event) {
	_ = j.writeEvent(e)
}

func (j *Journal) writeEvent(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := j.logPath(e.UserID)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (j *Journal) logPath(userID string) string {
	if userID == "" {
		return filepath.Join(j.dir, "_global.jsonl")
	}
	return filepath.Join(j.dir, userID+".jsonl")
}
