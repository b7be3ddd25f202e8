// Package carrier implements the telephony carrier's "Media Streams"
// event-framed JSON protocol over a persistent bidirectional WebSocket,
// generalized from the SignalWire-specific wire shapes in the original
// bridge into the vendor-neutral frame shapes the system targets.
package carrier

// inboundEnvelope is used only to sniff the "event" discriminator before
// unmarshaling into the concrete shape.
type inboundEnvelope struct {
	Event string `json:"event"`
}

// StartPayload carries the metadata set once by the carrier's "start"
// event; it is immutable for the remainder of the stream.
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
}

type startEvent struct {
	Event string       `json:"event"`
	Start StartPayload `json:"start"`
}

// MediaPayload carries one base64-encoded audio packet for a track.
type MediaPayload struct {
	Track   string `json:"track"`
	Payload string `json:"payload"`
}

type mediaEvent struct {
	Event string       `json:"event"`
	Media MediaPayload `json:"media"`
}

type markPayload struct {
	Name string `json:"name"`
}

type markEvent struct {
	Event string      `json:"event"`
	Mark  markPayload `json:"mark"`
}

// outboundMedia is the canonical outbound "media" frame: it echoes the
// stream id so the carrier can correlate the packet to the right call leg.
type outboundMedia struct {
	Event     string                 `json:"event"`
	StreamSID string                 `json:"streamSid"`
	Media     map[string]interface{} `json:"media"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}
