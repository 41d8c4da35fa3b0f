package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes envelopes and payloads for the wire.
type Codec interface {
	// Name returns the codec identifier used in configuration.
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// DecodeInbound decodes a response or notification envelope, leaving
	// its data field encoded.
	DecodeInbound(data []byte) (Inbound, error)
}

// Request is the outbound request envelope.
type Request struct {
	ID       string   `json:"id"`
	Method   string   `json:"method"`
	Internal Internal `json:"internal"`
	Data     any      `json:"data,omitempty"`
}

// Response is the envelope a worker sends to answer a request.
type Response struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// Notification is the envelope a worker sends unprompted.
type Notification struct {
	TargetID string `json:"targetId"`
	Event    string `json:"event"`
	Data     any    `json:"data,omitempty"`
}

// Inbound is a decoded response or notification. A non-empty ID marks a
// response; otherwise TargetID and Event describe a notification.
type Inbound struct {
	ID       string
	Accepted bool
	Error    string
	Reason   string
	TargetID string
	Event    string
	Data     []byte
}

// IsResponse reports whether the envelope answers a request.
func (in Inbound) IsResponse() bool {
	return in.ID != ""
}

// CodecByName returns the codec for a configuration name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s (use json or cbor)", name)
	}
}

// JSONCodec is the default text codec.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSONCodec) DecodeInbound(data []byte) (Inbound, error) {
	var wire struct {
		ID       string          `json:"id"`
		Accepted bool            `json:"accepted"`
		Error    string          `json:"error"`
		Reason   string          `json:"reason"`
		TargetID string          `json:"targetId"`
		Event    string          `json:"event"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Inbound{}, fmt.Errorf("decode json envelope: %w", err)
	}
	raw := []byte(wire.Data)
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = nil
	}
	return Inbound{
		ID:       wire.ID,
		Accepted: wire.Accepted,
		Error:    wire.Error,
		Reason:   wire.Reason,
		TargetID: wire.TargetID,
		Event:    wire.Event,
		Data:     raw,
	}, nil
}

// cborEncMode uses Core Deterministic Encoding so equal envelopes encode
// to equal bytes.
var cborEncMode cbor.EncMode

// cborDecMode decodes untyped maps as map[string]any so payloads
// decoded into any behave like their JSON counterparts.
var cborDecMode cbor.DecMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("channel: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("channel: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec is the compact binary codec. fxamacker/cbor reads the json
// struct tags, so both codecs share field names.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Marshal(v any) ([]byte, error) { return cborEncMode.Marshal(v) }

func (CBORCodec) Unmarshal(data []byte, v any) error { return cborDecMode.Unmarshal(data, v) }

func (CBORCodec) DecodeInbound(data []byte) (Inbound, error) {
	var wire struct {
		ID       string          `json:"id"`
		Accepted bool            `json:"accepted"`
		Error    string          `json:"error"`
		Reason   string          `json:"reason"`
		TargetID string          `json:"targetId"`
		Event    string          `json:"event"`
		Data     cbor.RawMessage `json:"data"`
	}
	if err := cborDecMode.Unmarshal(data, &wire); err != nil {
		return Inbound{}, fmt.Errorf("decode cbor envelope: %w", err)
	}
	raw := []byte(wire.Data)
	// 0xf6 is CBOR null.
	if len(raw) == 1 && raw[0] == 0xf6 {
		raw = nil
	}
	return Inbound{
		ID:       wire.ID,
		Accepted: wire.Accepted,
		Error:    wire.Error,
		Reason:   wire.Reason,
		TargetID: wire.TargetID,
		Event:    wire.Event,
		Data:     raw,
	}, nil
}
