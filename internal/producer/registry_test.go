package producer

import (
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryAddAndGet(t *testing.T) {
	r := NewRegistry(testLogger())

	p := New("mic-1", KindAudio, nil)
	if err := r.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := r.Get("mic-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != p {
		t.Error("expected same producer instance")
	}
	if got.AppData() == nil {
		t.Error("expected non-nil appData")
	}
}

func TestRegistryRejectsDuplicateAndEmpty(t *testing.T) {
	r := NewRegistry(testLogger())

	if err := r.Add(New("mic-1", KindAudio, nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(New("mic-1", KindAudio, nil)); err == nil {
		t.Error("expected duplicate id error")
	}
	if err := r.Add(New("", KindAudio, nil)); err == nil {
		t.Error("expected empty id error")
	}
	if err := r.Add(nil); err == nil {
		t.Error("expected nil producer error")
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(testLogger())
	p := New("mic-1", KindAudio, nil)
	_ = r.Add(p)

	if r.Resolve("mic-1") != p {
		t.Fatal("expected open producer to resolve")
	}
	if r.Resolve("unknown") != nil {
		t.Error("expected unknown producer to resolve to nil")
	}

	p.Close()
	if r.Resolve("mic-1") != nil {
		t.Error("expected closed producer to resolve to nil")
	}
	if _, err := r.Get("mic-1"); err != nil {
		t.Error("Get should still return closed producers")
	}
}

func TestRegistryRemoveClosesProducer(t *testing.T) {
	r := NewRegistry(testLogger())
	p := New("mic-1", KindAudio, nil)
	_ = r.Add(p)

	if err := r.Remove("mic-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !p.Closed() {
		t.Error("expected removed producer to be closed")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
	if err := r.Remove("mic-1"); err == nil {
		t.Error("expected error removing unknown producer")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry(testLogger())
	for _, id := range []string{"c", "a", "b"} {
		_ = r.Add(New(id, KindAudio, nil))
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 producers, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID() != want {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID(), want)
		}
	}
}

func TestProducerPausedFlag(t *testing.T) {
	p := New("cam", KindVideo, map[string]any{"room": "r1"})
	if p.Paused() {
		t.Fatal("new producer must not be paused")
	}
	p.SetPaused(true)
	if !p.Paused() {
		t.Error("expected paused")
	}
	if p.Kind() != KindVideo || p.AppData()["room"] != "r1" {
		t.Error("unexpected kind or appData")
	}
}
