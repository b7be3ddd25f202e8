package carrier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/birddigital/callbridge/internal/logging"
)

// maxPreStartMessages bounds how many non-"start" messages the stream
// tolerates before declaring setup failure (§4.2).
const maxPreStartMessages = 50

// Callbacks groups the dispatch hooks a CarrierStream drives as it parses
// inbound events. All callbacks run on the stream's single receive
// goroutine, in arrival order.
type Callbacks struct {
	OnStart func(StartPayload)
	OnAudio func(payload []byte) // raw mu-law bytes, inbound track only
	OnStop  func()
	OnMark  func(name string)
}

// Stream speaks the carrier's event-framed JSON protocol over one
// persistent WebSocket connection.
type Stream struct {
	conn *websocket.Conn
	log  *logging.Logger
	cb   Callbacks

	mu        sync.Mutex
	connected bool
	streamSID string

	preStartCount int
}

// New wraps an already-upgraded WebSocket connection as a carrier Stream.
func New(conn *websocket.Conn, cb Callbacks, log *logging.Logger) *Stream {
	return &Stream{conn: conn, cb: cb, log: log}
}

// ReceiveLoop runs until the underlying connection closes or a setup
// failure is declared, dispatching parsed events to the registered
// callbacks in arrival order. It returns the reason the loop ended.
func (s *Stream) ReceiveLoop() error {
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPingHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("carrier: read error: %w", err)
			}
			return nil
		}

		if err := s.dispatch(raw); err != nil {
			return err
		}
	}
}

func (s *Stream) dispatch(raw []byte) error {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("dropping malformed frame: %v", err)
		return nil
	}

	s.mu.Lock()
	started := s.connected
	s.mu.Unlock()

	if !started && env.Event != "start" {
		s.mu.Lock()
		s.preStartCount++
		count := s.preStartCount
		s.mu.Unlock()
		if count > maxPreStartMessages {
			return fmt.Errorf("carrier: exceeded %d pre-start messages without a start event", maxPreStartMessages)
		}
	}

	switch env.Event {
	case "connected":
		// No payload of interest; the carrier acknowledges the socket.
	case "start":
		var ev startEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.log.Warn("dropping malformed start event: %v", err)
			return nil
		}
		s.mu.Lock()
		s.connected = true
		s.streamSID = ev.Start.StreamSID
		s.mu.Unlock()
		if s.cb.OnStart != nil {
			s.cb.OnStart(ev.Start)
		}
	case "media":
		var ev mediaEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.log.Warn("dropping malformed media event: %v", err)
			return nil
		}
		if ev.Media.Track != "" && ev.Media.Track != "inbound" {
			return nil
		}
		decoded, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
		if err != nil {
			s.log.Warn("dropping media event with bad payload: %v", err)
			return nil
		}
		if s.cb.OnAudio != nil {
			s.cb.OnAudio(decoded)
		}
	case "stop":
		if s.cb.OnStop != nil {
			s.cb.OnStop()
		}
	case "mark":
		var ev markEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.log.Warn("dropping malformed mark event: %v", err)
			return nil
		}
		if s.cb.OnMark != nil {
			s.cb.OnMark(ev.Mark.Name)
		}
	default:
		s.log.Debug("ignoring unknown event type %q", env.Event)
	}

	return nil
}

// IsConnected reports whether the "start" event has been observed.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SendAudio writes an outbound mu-law media frame, echoing the stream id.
// It fails silently (returns nil) if the stream has not yet received
// "start" — per §4.2, a send before connection is simply a no-op.
func (s *Stream) SendAudio(mulawPayload []byte) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	sid := s.streamSID
	s.mu.Unlock()

	frame := outboundMedia{
		Event:     "media",
		StreamSID: sid,
		Media: map[string]interface{}{
			"payload": base64.StdEncoding.EncodeToString(mulawPayload),
		},
	}
	return s.writeJSON(frame)
}

// SendClear emits a "clear" frame, discarding any buffered playback on the
// carrier side. Fails silently if not yet connected.
func (s *Stream) SendClear() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	sid := s.streamSID
	s.mu.Unlock()

	return s.writeJSON(outboundClear{Event: "clear", StreamSID: sid})
}

// SendMark emits a named "mark" frame.
func (s *Stream) SendMark(name string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	sid := s.streamSID
	s.mu.Unlock()

	return s.writeJSON(outboundMark{Event: "mark", StreamSID: sid, Mark: markPayload{Name: name}})
}

// writeJSON serializes and writes one text frame. Outbound frames are
// serialized through this single writer so the carrier observes the same
// order the Bridge enqueued them in.
func (s *Stream) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("carrier: marshal outbound frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close terminates the underlying connection.
func (s *Stream) Close() error {
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
