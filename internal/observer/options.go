package observer

import "fmt"

// Audio-level observer option bounds and defaults.
const (
	DefaultMaxEntries = 1
	DefaultThreshold  = -80
	DefaultInterval   = 1000

	MinThreshold = -127
	MaxThreshold = 0
	MinInterval  = 250
	MaxInterval  = 5000
)

// AudioLevelObserverOptions define options to create an AudioLevelObserver.
type AudioLevelObserverOptions struct {
	// MaxEntries is the maximum number of entries in the "volumes" event.
	MaxEntries uint16 `json:"maxEntries"`

	// Threshold is the minimum average volume (in dBvo from -127 to 0) for
	// entries in the "volumes" event.
	Threshold int8 `json:"threshold"`

	// Interval in ms for checking audio volumes.
	Interval uint16 `json:"interval"`

	// AppData is custom application data.
	AppData map[string]any `json:"-"`
}

// AudioLevelObserverOption mutates options before validation.
type AudioLevelObserverOption func(*AudioLevelObserverOptions)

// WithMaxEntries sets MaxEntries.
func WithMaxEntries(n uint16) AudioLevelObserverOption {
	return func(o *AudioLevelObserverOptions) { o.MaxEntries = n }
}

// WithThreshold sets Threshold.
func WithThreshold(dBvo int8) AudioLevelObserverOption {
	return func(o *AudioLevelObserverOptions) { o.Threshold = dBvo }
}

// WithInterval sets Interval in milliseconds.
func WithInterval(ms uint16) AudioLevelObserverOption {
	return func(o *AudioLevelObserverOptions) { o.Interval = ms }
}

// WithAppData sets AppData.
func WithAppData(appData map[string]any) AudioLevelObserverOption {
	return func(o *AudioLevelObserverOptions) { o.AppData = appData }
}

// NewAudioLevelObserverOptions applies opts over the defaults and
// validates the result.
func NewAudioLevelObserverOptions(opts ...AudioLevelObserverOption) (AudioLevelObserverOptions, error) {
	o := AudioLevelObserverOptions{
		MaxEntries: DefaultMaxEntries,
		Threshold:  DefaultThreshold,
		Interval:   DefaultInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return AudioLevelObserverOptions{}, err
	}
	return o, nil
}

// Validate rejects out-of-range values and clamps Interval into
// [MinInterval, MaxInterval].
func (o *AudioLevelObserverOptions) Validate() error {
	if o.MaxEntries < 1 {
		return fmt.Errorf("%w: maxEntries must be at least 1", ErrInvalidOptions)
	}
	if o.Threshold < MinThreshold || o.Threshold > MaxThreshold {
		return fmt.Errorf("%w: threshold %d out of range [%d, %d]", ErrInvalidOptions, o.Threshold, MinThreshold, MaxThreshold)
	}
	if o.Interval < MinInterval {
		o.Interval = MinInterval
	} else if o.Interval > MaxInterval {
		o.Interval = MaxInterval
	}
	return nil
}
