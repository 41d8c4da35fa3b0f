package observer

import (
	"math"

	"github.com/clawinfra/rtpobserver/internal/channel"
)

// Notifications sent by the worker for an audio-level observer.
const (
	NotificationVolumes = "volumes"
	NotificationSilence = "silence"
)

// volumeEntry is one element of a volumes notification. Volume is decoded
// wide so one odd entry cannot fail the batch.
type volumeEntry struct {
	ProducerID string  `json:"producerId"`
	Volume     float64 `json:"volume"`
}

// clampVolume rounds v to a whole dBvo within [-127, 0].
func clampVolume(v float64) int8 {
	switch {
	case math.IsNaN(v):
		return MinThreshold
	case v < MinThreshold:
		return MinThreshold
	case v > MaxThreshold:
		return MaxThreshold
	}
	return int8(math.Round(v))
}

// AudioLevelObserver reports the loudest audio producers it watches. It
// emits volumes and silence on both the primary and observer streams.
type AudioLevelObserver struct {
	*RtpObserver
}

// NewAudioLevelObserver creates the observer and subscribes to the
// worker's notifications for its id.
func NewAudioLevelObserver(opts Options) *AudioLevelObserver {
	o := &AudioLevelObserver{RtpObserver: New(opts)}
	o.handleWorkerNotifications()
	return o
}

func (o *AudioLevelObserver) handleWorkerNotifications() {
	o.channel.Subscribe(o.internal.RtpObserverID, o.handleNotification)
}

func (o *AudioLevelObserver) handleNotification(event string, data channel.Payload) {
	if o.Closed() {
		return
	}

	switch event {
	case NotificationVolumes:
		var entries []volumeEntry
		if err := data.Decode(&entries); err != nil {
			o.logger.Error("invalid volumes notification", "error", err)
			return
		}

		// Get the corresponding Producer instance and remove entries with
		// no Producer (it may have been closed in the meanwhile).
		volumes := make([]Volume, 0, len(entries))
		for _, entry := range entries {
			p := o.getProducer(entry.ProducerID)
			if p == nil {
				continue
			}
			volumes = append(volumes, Volume{Producer: p, Volume: clampVolume(entry.Volume)})
		}

		if len(volumes) > 0 {
			o.primary.SafeEmit(EventVolumes, Event{Volumes: volumes})

			// Emit observer event.
			o.observer.SafeEmit(EventVolumes, Event{Volumes: volumes})
		}

	case NotificationSilence:
		o.primary.SafeEmit(EventSilence, Event{})

		// Emit observer event.
		o.observer.SafeEmit(EventSilence, Event{})

	default:
		o.logger.Error("ignoring unknown event", "event", event)
	}
}
