package observer

import "github.com/clawinfra/rtpobserver/internal/producer"

// Primary stream events.
const (
	// EventRouterClose fires when the owning router closed the observer.
	EventRouterClose = "routerclose"
	// EventPrivateClose fires when the observer closes itself. It is
	// consumed by the owning router to drop its reference.
	EventPrivateClose = "@close"
)

// Observer stream events.
const (
	EventClose          = "close"
	EventPause          = "pause"
	EventResume         = "resume"
	EventAddProducer    = "addproducer"
	EventRemoveProducer = "removeproducer"
)

// Audio-level events, emitted on both streams.
const (
	EventVolumes = "volumes"
	EventSilence = "silence"
)

// Event is the argument delivered with every observer event. Only the field
// relevant to the event is set: Producer for addproducer/removeproducer,
// Volumes for volumes.
type Event struct {
	Producer *producer.Producer
	Volumes  []Volume
}

// Volume is one entry of a volumes event.
type Volume struct {
	// Producer is the audio producer instance.
	Producer *producer.Producer

	// Volume is the average volume (in dBvo from -127 to 0) of the audio
	// producer in the last interval.
	Volume int8
}
