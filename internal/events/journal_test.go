package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJournal_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bus := NewBus(64)
	defer bus.Close()

	j := NewJournal(dir, bus)
	defer j.Close()

	bus.Publish(Event{
		ID:        "evt-1",
		Type:      EventTaskStatusChanged,
		Timestamp: time.Now(),
		Source:    SourceOrchestrator,
		Payload:   map[string]any{"taskId": 1, "status": "streaming"},
	})

	// Give the async subscriber time to process.
	time.Sleep(100 * time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, "_global.jsonl"))
	if err != nil {
		t.Fatalf("read JSONL: %v", err)
	}

	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "evt-1" {
		t.Errorf("got ID %q, want %q", got.ID, "evt-1")
	}
	if got.Type != EventTaskStatusChanged {
		t.Errorf("got type %q, want %q", got.Type, EventTaskStatusChanged)
	}
}

func TestJournal_UserRouting(t *testing.T) {
	dir := t.TempDir()
	bus := NewBus(64)
	defer bus.Close()

	j := NewJournal(dir, bus)
	defer j.Close()

	bus.Publish(Event{
		ID:        "evt-global",
		Type:      EventTaskStatusChanged,
		Timestamp: time.Now(),
		Source:    SourceOrchestrator,
	})
	bus.Publish(Event{
		ID:        "evt-user",
		UserID:    "alice",
		Type:      EventTaskDeleted,
		Timestamp: time.Now(),
		Source:    SourceOrchestrator,
	})

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("_global.jsonl missing: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "alice.jsonl"))
	if err != nil {
		t.Fatalf("user file missing: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "evt-user" {
		t.Errorf("got ID %q, want %q", got.ID, "evt-user")
	}
}

func TestJournal_AppendsAllEvents(t *testing.T) {
	dir := t.TempDir()
	bus := NewBus(64)
	defer bus.Close()

	j := NewJournal(dir, bus)
	defer j.Close()

	types := []EventType{
		EventTaskStatusChanged,
		EventStreamStarted,
		EventToolCall,
	}

	for i, et := range types {
		bus.Publish(Event{
			ID:        string(rune('a' + i)),
			Type:      et,
			Timestamp: time.Now(),
			Source:    SourceDispatcher,
		})
	}

	time.Sleep(100 * time.Millisecond)

	f, err := os.Open(filepath.Join(dir, "_global.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var count int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line %d: %v", count, err)
		}
		count++
	}
	if count != len(types) {
		t.Errorf("got %d events, want %d", count, len(types))
	}
}

func TestJournal_DirectoryAutoCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	bus := NewBus(64)
	defer bus.Close()

	j := NewJournal(dir, bus)
	defer j.Close()

	bus.Publish(Event{
		ID:        "evt-auto",
		Type:      EventTaskStatusChanged,
		Timestamp: time.Now(),
		Source:    SourceGateway,
	})

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("directory not auto-created: %v", err)
	}
}
