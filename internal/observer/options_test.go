package observer

import (
	"errors"
	"testing"
)

func TestAudioLevelObserverOptionsDefaults(t *testing.T) {
	opts, err := NewAudioLevelObserverOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.MaxEntries != 1 || opts.Threshold != -80 || opts.Interval != 1000 {
		t.Errorf("defaults = %+v", opts)
	}
}

func TestAudioLevelObserverOptionsValidate(t *testing.T) {
	tests := []struct {
		name     string
		opts     []AudioLevelObserverOption
		wantErr  bool
		interval uint16
	}{
		{"custom", []AudioLevelObserverOption{WithMaxEntries(5), WithThreshold(-60), WithInterval(800)}, false, 800},
		{"zero entries", []AudioLevelObserverOption{WithMaxEntries(0)}, true, 0},
		{"threshold too high", []AudioLevelObserverOption{WithThreshold(10)}, true, 0},
		{"threshold too low", []AudioLevelObserverOption{WithThreshold(-128)}, true, 0},
		{"interval clamped low", []AudioLevelObserverOption{WithInterval(10)}, false, MinInterval},
		{"interval clamped high", []AudioLevelObserverOption{WithInterval(60000)}, false, MaxInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := NewAudioLevelObserverOptions(tt.opts...)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOptions) {
					t.Errorf("expected ErrInvalidOptions, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opts.Interval != tt.interval {
				t.Errorf("interval = %d, want %d", opts.Interval, tt.interval)
			}
		})
	}
}

func TestWithAppData(t *testing.T) {
	opts, err := NewAudioLevelObserverOptions(WithAppData(map[string]any{"room": "lobby"}))
	if err != nil {
		t.Fatal(err)
	}
	if opts.AppData["room"] != "lobby" {
		t.Errorf("appData = %v", opts.AppData)
	}
}
