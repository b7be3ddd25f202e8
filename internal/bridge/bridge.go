// Package bridge implements the bidirectional audio path between a
// carrier stream and a model stream: resampling in both directions,
// bounded queues with asymmetric backpressure policies, a staging
// buffer on the input side, barge-in handling, and transcript routing
// into a Brain.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/birddigital/callbridge/internal/brain"
	"github.com/birddigital/callbridge/internal/codec"
	"github.com/birddigital/callbridge/internal/logging"
	"github.com/birddigital/callbridge/internal/modelstream"
)

// CarrierSink is the subset of carrier.Stream the bridge depends on —
// declared locally so the bridge can be tested against a fake without
// standing up a real WebSocket connection.
type CarrierSink interface {
	SendAudio(mulawPayload []byte) error
	SendClear() error
}

const (
	carrierSampleRate = 8000

	// carrierToModelQueueSize and modelToCarrierQueueSize bound the two
	// audio queues; see §5 for the asymmetric backpressure policy each
	// one implements.
	carrierToModelQueueSize = 64
	modelToCarrierQueueSize = 200

	// minInputChunkMS is the input-side staging threshold: audio is held
	// until at least this much has accumulated before being handed to
	// the model, trading a little latency for fewer, larger sends.
	minInputChunkMS = 50
)

// Metrics tracks bridge-lifetime counters for observability.
type Metrics struct {
	CarrierFramesIn     int64
	ModelFramesOut      int64
	CarrierFramesDropped int64
	Interruptions       int64
}

// Bridge wires one call's CarrierStream, ModelStream, and Brain
// together. One Bridge per call.
type Bridge struct {
	callID string
	log    *logging.Logger

	carrierStream CarrierSink
	model         modelstream.ModelStream
	conv          *brain.Brain
	stt           *ExternalBatchSTT // nil when using the model's built-in STT

	codecBank *codec.Bank

	carrierToModel chan []byte
	modelToCarrier chan []byte

	stageMu  sync.Mutex
	staging  []byte
	minBytes int

	metrics Metrics

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a Bridge. stt is optional; pass nil to rely on the model
// stream's own transcript events instead of an external batch STT path.
func New(callID string, carrierStream CarrierSink, model modelstream.ModelStream, conv *brain.Brain, stt *ExternalBatchSTT, codecBank *codec.Bank, log *logging.Logger) *Bridge {
	inputRate := model.InputRate()
	return &Bridge{
		callID:         callID,
		log:            log,
		carrierStream:  carrierStream,
		model:          model,
		conv:           conv,
		stt:            stt,
		codecBank:      codecBank,
		carrierToModel: make(chan []byte, carrierToModelQueueSize),
		modelToCarrier: make(chan []byte, modelToCarrierQueueSize),
		minBytes:       inputRate * 2 * minInputChunkMS / 1000,
		stopped:        make(chan struct{}),
	}
}

// Metrics returns a snapshot of the bridge's lifetime counters.
func (b *Bridge) Metrics() Metrics {
	return Metrics{
		CarrierFramesIn:      atomic.LoadInt64(&b.metrics.CarrierFramesIn),
		ModelFramesOut:       atomic.LoadInt64(&b.metrics.ModelFramesOut),
		CarrierFramesDropped: atomic.LoadInt64(&b.metrics.CarrierFramesDropped),
		Interruptions:        atomic.LoadInt64(&b.metrics.Interruptions),
	}
}

// Run starts the bridge's pumps and blocks until ctx is canceled or the
// model stream's event channel closes (the model hung up).
func (b *Bridge) Run(ctx context.Context) {
	go b.carrierToModelPump(ctx)
	go b.modelToCarrierPump(ctx)
	b.consumeModelEvents(ctx)
}

// Stop halts the bridge's pumps. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stopped) })
}

// OnCarrierAudio is wired as carrier.Callbacks.OnAudio: it receives raw
// inbound mu-law bytes from the phone, converts and stages them, and
// forwards a chunk to the model once the staging buffer reaches the
// minimum input size.
func (b *Bridge) OnCarrierAudio(mulaw []byte) {
	atomic.AddInt64(&b.metrics.CarrierFramesIn, 1)

	pcmCarrierRate := codec.MulawToPCM16(mulaw)
	pcmModelRate, err := b.codecBank.Resample(pcmCarrierRate, carrierSampleRate, b.model.InputRate())
	if err != nil {
		b.log.Warn("bridge: resample carrier audio: %v", err)
		return
	}

	if b.stt != nil {
		b.stt.Feed(context.Background(), pcmModelRate)
	}

	b.stageMu.Lock()
	b.staging = append(b.staging, pcmModelRate...)
	var chunk []byte
	if len(b.staging) >= b.minBytes {
		chunk = b.staging
		b.staging = nil
	}
	b.stageMu.Unlock()

	if chunk != nil {
		b.enqueueCarrierToModel(chunk)
	}
}

// OnCarrierStop is wired as carrier.Callbacks.OnStop: it flushes any
// partially-filled staging buffer so the model sees every sample the
// caller spoke, even the last fraction-of-a-chunk.
func (b *Bridge) OnCarrierStop() {
	b.stageMu.Lock()
	chunk := b.staging
	b.staging = nil
	b.stageMu.Unlock()

	if len(chunk) > 0 {
		b.enqueueCarrierToModel(chunk)
	}
	b.Stop()
}

// enqueueCarrierToModel applies the carrier→model backpressure policy:
// when the queue is full, the oldest queued frame is dropped to make
// room for the newest one, so the bridge always forwards the most
// recent audio rather than stalling on a backlog.
func (b *Bridge) enqueueCarrierToModel(chunk []byte) {
	for {
		select {
		case b.carrierToModel <- chunk:
			return
		default:
			select {
			case <-b.carrierToModel:
				atomic.AddInt64(&b.metrics.CarrierFramesDropped, 1)
			default:
			}
		}
	}
}

func (b *Bridge) carrierToModelPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopped:
			return
		case chunk := <-b.carrierToModel:
			if err := b.model.SendAudio(chunk); err != nil {
				b.log.Warn("bridge: send audio to model: %v", err)
				return
			}
		}
	}
}

// modelToCarrierPump delivers model audio to the carrier. Enqueuing onto
// modelToCarrier (done in consumeModelEvents) blocks the producer when
// full rather than dropping, per §5: caller-facing audio is never
// silently discarded.
func (b *Bridge) modelToCarrierPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopped:
			return
		case mulaw := <-b.modelToCarrier:
			if err := b.carrierStream.SendAudio(mulaw); err != nil {
				b.log.Warn("bridge: send audio to carrier: %v", err)
				return
			}
			atomic.AddInt64(&b.metrics.ModelFramesOut, 1)
		}
	}
}

// consumeModelEvents drains the model stream's event channel for the
// lifetime of the call, converting audio for outbound delivery and
// routing transcript/turn-boundary events into the Brain.
func (b *Bridge) consumeModelEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopped:
			return
		case event, ok := <-b.model.Events():
			if !ok {
				return
			}
			b.handleModelEvent(ctx, event)
		}
	}
}

// handleModelEvent reacts to one model-stream event. It must never
// block: it runs on the bridge's single event-consumption goroutine,
// the same one that delivers EventAudioDelta to the carrier and reacts
// to EventUserSpeechStarted for barge-in, so a turn flush (which can
// dispatch to an executor that takes up to the configured hard
// timeout to reply) is always handed off to FlushUserTurn's own
// dispatch worker rather than awaited here.
func (b *Bridge) handleModelEvent(ctx context.Context, event modelstream.Event) {
	switch event.Kind {
	case modelstream.EventAudioDelta:
		b.handleModelAudio(event.Audio)
	case modelstream.EventAssistantTranscriptDelta:
		b.conv.AddAssistantFragment(event.Text)
	case modelstream.EventResponseDone:
		b.conv.FlushAssistantTurn()
	case modelstream.EventUserTranscriptFinal:
		// Suppressed while external STT owns the turn boundary, so the
		// model's own transcript never produces a second flush for the
		// same utterance.
		if b.stt == nil {
			b.conv.AddUserFragment(event.Text)
			go b.conv.FlushUserTurn(ctx, b.callID)
		}
	case modelstream.EventUserSpeechStopped:
		// Variant A's explicit turn boundary. FlushUserTurn drains
		// whatever fragments are buffered and no-ops if another trigger
		// already flushed this turn.
		go b.conv.FlushUserTurn(ctx, b.callID)
	case modelstream.EventUserSpeechStarted:
		b.handleBargeIn()
	case modelstream.EventError:
		b.log.Warn("bridge: model stream error %s: %s", event.ErrCode, event.ErrMessage)
	}
}

func (b *Bridge) handleModelAudio(pcmModelRate []byte) {
	pcmCarrierRate, err := b.codecBank.Resample(pcmModelRate, b.model.OutputRate(), carrierSampleRate)
	if err != nil {
		b.log.Warn("bridge: resample model audio: %v", err)
		return
	}
	mulaw := codec.PCM16ToMulaw(pcmCarrierRate)
	b.modelToCarrier <- mulaw
}

// handleBargeIn implements the caller-interruption policy: drain any
// queued-but-unsent model audio first, then tell the carrier to clear
// whatever it has already buffered for playback, in that order so the
// carrier never plays audio the bridge just discarded upstream.
func (b *Bridge) handleBargeIn() {
	b.drainModelToCarrier()
	if err := b.carrierStream.SendClear(); err != nil {
		b.log.Warn("bridge: send clear: %v", err)
	}
	atomic.AddInt64(&b.metrics.Interruptions, 1)
}

func (b *Bridge) drainModelToCarrier() int {
	count := 0
	for {
		select {
		case <-b.modelToCarrier:
			count++
		default:
			return count
		}
	}
}

// OnReplyFromBrain is registered with Brain.SetOnReply so an executor's
// reply is spoken back through the model stream as a new end-of-turn
// text message.
func (b *Bridge) OnReplyFromBrain(ctx context.Context, reply string) {
	if err := b.model.SendText(reply, true); err != nil {
		b.log.Warn("bridge: relay executor reply to model: %v", err)
	}
}
