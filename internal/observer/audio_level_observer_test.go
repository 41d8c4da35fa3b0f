package observer

import (
	"testing"

	"github.com/clawinfra/rtpobserver/internal/producer"
)

func newRegistry(t *testing.T, ids ...string) *producer.Registry {
	t.Helper()
	r := producer.NewRegistry(testLogger())
	for _, id := range ids {
		if err := r.Add(producer.New(id, producer.KindAudio, nil)); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestVolumesFiltersUnresolvedProducers(t *testing.T) {
	ch := newFakeChannel()
	o := newTestObserver(t, ch, newRegistry(t, "a", "c"))

	var primary []Volume
	o.On(EventVolumes, func(e Event) { primary = e.Volumes })
	log := watchAll(o.RtpObserver)

	ch.notify(t, "obs-1", NotificationVolumes, []map[string]any{
		{"producerId": "a", "volume": -10},
		{"producerId": "b", "volume": -20},
		{"producerId": "c", "volume": -30},
	})

	if len(primary) != 2 {
		t.Fatalf("primary volumes = %d entries, want 2", len(primary))
	}
	if primary[0].Producer.ID() != "a" || primary[0].Volume != -10 {
		t.Errorf("entry 0 = %s/%d", primary[0].Producer.ID(), primary[0].Volume)
	}
	if primary[1].Producer.ID() != "c" || primary[1].Volume != -30 {
		t.Errorf("entry 1 = %s/%d", primary[1].Producer.ID(), primary[1].Volume)
	}
	if log.count(EventVolumes) != 1 || len(log.last.Volumes) != 2 {
		t.Error("expected one volumes event on the observer stream")
	}
}

func TestVolumesOutOfRangeEntryDoesNotDropBatch(t *testing.T) {
	ch := newFakeChannel()
	o := newTestObserver(t, ch, newRegistry(t, "a", "b", "c"))

	var primary []Volume
	o.On(EventVolumes, func(e Event) { primary = e.Volumes })

	ch.notify(t, "obs-1", NotificationVolumes, []map[string]any{
		{"producerId": "a", "volume": -200},
		{"producerId": "b", "volume": -20.6},
		{"producerId": "c", "volume": 3},
	})

	want := []int8{-127, -21, 0}
	if len(primary) != len(want) {
		t.Fatalf("primary volumes = %d entries, want %d", len(primary), len(want))
	}
	for i, v := range want {
		if primary[i].Volume != v {
			t.Errorf("entry %d (%s) = %d, want %d", i, primary[i].Producer.ID(), primary[i].Volume, v)
		}
	}
}

func TestVolumesAllUnresolvedEmitsNothing(t *testing.T) {
	ch := newFakeChannel()
	o := newTestObserver(t, ch, newRegistry(t))

	primary := 0
	o.On(EventVolumes, func(Event) { primary++ })
	log := watchAll(o.RtpObserver)

	ch.notify(t, "obs-1", NotificationVolumes, []map[string]any{
		{"producerId": "x", "volume": -10},
		{"producerId": "y", "volume": -20},
	})
	ch.notify(t, "obs-1", NotificationVolumes, []map[string]any{})

	if primary != 0 || log.count(EventVolumes) != 0 {
		t.Error("all-absent batch must not be emitted")
	}
}

func TestVolumesSkipsClosedProducer(t *testing.T) {
	ch := newFakeChannel()
	producers := newRegistry(t, "a", "b")
	o := newTestObserver(t, ch, producers)
	log := watchAll(o.RtpObserver)

	if err := producers.Remove("b"); err != nil {
		t.Fatal(err)
	}
	ch.notify(t, "obs-1", NotificationVolumes, []map[string]any{
		{"producerId": "b", "volume": -5},
		{"producerId": "a", "volume": -50},
	})

	if len(log.last.Volumes) != 1 || log.last.Volumes[0].Producer.ID() != "a" {
		t.Errorf("volumes = %+v", log.last.Volumes)
	}
}

func TestSilenceAlwaysEmits(t *testing.T) {
	ch := newFakeChannel()
	o := newTestObserver(t, ch, nil)

	primary := 0
	o.On(EventSilence, func(e Event) {
		primary++
		if e.Producer != nil || e.Volumes != nil {
			t.Error("silence carries no payload")
		}
	})
	log := watchAll(o.RtpObserver)

	ch.notify(t, "obs-1", NotificationSilence, nil)
	if err := o.Pause(t.Context()); err != nil {
		t.Fatal(err)
	}
	ch.notify(t, "obs-1", NotificationSilence, nil)

	if primary != 2 || log.count(EventSilence) != 2 {
		t.Errorf("silence primary=%d observer=%d, want 2/2", primary, log.count(EventSilence))
	}
}

func TestUnknownNotificationIgnored(t *testing.T) {
	ch := newFakeChannel()
	o := newTestObserver(t, ch, newRegistry(t, "a"))
	log := watchAll(o.RtpObserver)

	ch.notify(t, "obs-1", "dominantspeaker", map[string]any{"producerId": "a"})

	if len(log.names()) != 0 {
		t.Errorf("unknown notification emitted %v", log.names())
	}
	if o.Closed() || o.Paused() {
		t.Error("unknown notification changed state")
	}
	if !ch.subscribed("obs-1") {
		t.Error("subscription must survive an unknown notification")
	}

	// The pipeline still works afterwards.
	ch.notify(t, "obs-1", NotificationSilence, nil)
	if log.count(EventSilence) != 1 {
		t.Error("expected silence after unknown notification")
	}
}

func TestMalformedVolumesIgnored(t *testing.T) {
	ch := newFakeChannel()
	o := newTestObserver(t, ch, newRegistry(t, "a"))
	log := watchAll(o.RtpObserver)

	ch.notify(t, "obs-1", NotificationVolumes, map[string]any{"not": "a list"})
	ch.notify(t, "obs-1", NotificationVolumes, nil)

	if len(log.names()) != 0 {
		t.Errorf("malformed volumes emitted %v", log.names())
	}
}

func TestPanickingListenerDoesNotStopFanOut(t *testing.T) {
	ch := newFakeChannel()
	o := newTestObserver(t, ch, nil)

	o.On(EventSilence, func(Event) { panic("subscriber bug") })
	second := 0
	o.On(EventSilence, func(Event) { second++ })
	log := watchAll(o.RtpObserver)

	ch.notify(t, "obs-1", NotificationSilence, nil)

	if second != 1 {
		t.Error("sibling listener not called")
	}
	if log.count(EventSilence) != 1 {
		t.Error("observer stream not reached")
	}
}

func TestNoNotificationsAfterClose(t *testing.T) {
	ch := newFakeChannel()
	o := newTestObserver(t, ch, newRegistry(t, "a"))
	log := watchAll(o.RtpObserver)

	o.RouterClosed()
	ch.notify(t, "obs-1", NotificationSilence, nil)

	if log.count(EventSilence) != 0 {
		t.Error("closed observer still received notifications")
	}
}
