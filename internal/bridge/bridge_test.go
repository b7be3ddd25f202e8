package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	brainpkg "github.com/birddigital/callbridge/internal/brain"
	"github.com/birddigital/callbridge/internal/codec"
	"github.com/birddigital/callbridge/internal/logging"
	"github.com/birddigital/callbridge/internal/modelstream"
)

type fakeCarrierSink struct {
	mu     sync.Mutex
	audio  [][]byte
	clears int
}

func (f *fakeCarrierSink) SendAudio(mulaw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, mulaw)
	return nil
}

func (f *fakeCarrierSink) SendClear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeCarrierSink) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func (f *fakeCarrierSink) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type fakeModelStream struct {
	mu        sync.Mutex
	sentAudio [][]byte
	sentText  []string
	events    chan modelstream.Event
	inRate    int
	outRate   int
}

func newFakeModelStream(inRate, outRate int) *fakeModelStream {
	return &fakeModelStream{events: make(chan modelstream.Event, 32), inRate: inRate, outRate: outRate}
}

func (f *fakeModelStream) Connect(ctx context.Context, systemInstruction, voice, initialPrompt string) error {
	return nil
}

func (f *fakeModelStream) SendAudio(pcm16 []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentAudio = append(f.sentAudio, pcm16)
	return nil
}

func (f *fakeModelStream) SendText(text string, endOfTurn bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = append(f.sentText, text)
	return nil
}

func (f *fakeModelStream) Events() <-chan modelstream.Event { return f.events }
func (f *fakeModelStream) InputRate() int                   { return f.inRate }
func (f *fakeModelStream) OutputRate() int                  { return f.outRate }
func (f *fakeModelStream) Disconnect() error                { close(f.events); return nil }

func (f *fakeModelStream) sentAudioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentAudio)
}

func testBridge(t *testing.T, carrierRate int) (*Bridge, *fakeCarrierSink, *fakeModelStream) {
	t.Helper()
	sink := &fakeCarrierSink{}
	model := newFakeModelStream(16000, 24000)
	conv := brainpkg.New("call-1", brainpkg.Config{}, nil, nil, logging.New("test", logging.LevelDebug))
	b := New("call-1", sink, model, conv, nil, codec.NewBank(), logging.New("test", logging.LevelDebug))
	return b, sink, model
}

// silenceMulawFrame returns n bytes of mu-law-encoded silence, the
// smallest unit the carrier ever delivers per media event.
func silenceMulawFrame(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

func TestOnCarrierAudioStagesUntilMinChunk(t *testing.T) {
	b, _, model := testBridge(t, 8000)

	// One 20ms carrier frame (160 mu-law bytes @ 8kHz) resamples to far
	// less than the 50ms-at-16kHz staging threshold, so nothing should
	// reach the model yet.
	b.OnCarrierAudio(silenceMulawFrame(160))
	if got := model.sentAudioCount(); got != 0 {
		t.Fatalf("sent to model after one small frame: got %d sends, want 0", got)
	}

	// Enough additional frames to cross the staging threshold.
	for i := 0; i < 10; i++ {
		b.OnCarrierAudio(silenceMulawFrame(160))
	}

	go b.carrierToModelPump(context.Background())
	defer b.Stop()

	deadline := time.After(2 * time.Second)
	for model.sentAudioCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for staged audio to reach the model")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestEnqueueCarrierToModelDropsOldestWhenFull(t *testing.T) {
	b, _, _ := testBridge(t, 8000)
	// Fill the queue without a pump draining it.
	for i := 0; i < carrierToModelQueueSize+5; i++ {
		b.enqueueCarrierToModel([]byte{byte(i)})
	}
	if got := b.Metrics().CarrierFramesDropped; got == 0 {
		t.Fatalf("expected dropped-oldest frames to be counted, got 0")
	}
	if len(b.carrierToModel) != carrierToModelQueueSize {
		t.Fatalf("queue length = %d, want %d (stayed bounded)", len(b.carrierToModel), carrierToModelQueueSize)
	}
}

func TestHandleModelAudioDeliversToCarrier(t *testing.T) {
	b, sink, _ := testBridge(t, 8000)
	// handleModelAudio only enqueues; the pump performs the carrier send.
	go b.modelToCarrierPump(context.Background())
	defer b.Stop()

	pcm := make([]byte, 960) // 20ms @ 24kHz
	b.handleModelAudio(pcm)

	deadline := time.After(2 * time.Second)
	for sink.audioCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for model audio to reach the carrier")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if sink.audioCount() != 1 {
		t.Fatalf("carrier sink got %d sends, want 1", sink.audioCount())
	}
}

func TestBargeInDrainsThenClears(t *testing.T) {
	b, sink, _ := testBridge(t, 8000)

	// Queue audio that would otherwise reach the carrier.
	for i := 0; i < 5; i++ {
		b.modelToCarrier <- []byte{byte(i)}
	}

	b.handleBargeIn()

	if len(b.modelToCarrier) != 0 {
		t.Fatalf("queued audio not drained before clear")
	}
	if sink.clearCount() != 1 {
		t.Fatalf("clear count = %d, want 1", sink.clearCount())
	}
	if b.Metrics().Interruptions != 1 {
		t.Fatalf("interruption count = %d, want 1", b.Metrics().Interruptions)
	}
}

// slowExecutor blocks Dispatch until release is closed, simulating a
// command processor that takes a long time to answer.
type slowExecutor struct {
	started chan struct{}
	release chan struct{}
}

func newSlowExecutor() *slowExecutor {
	return &slowExecutor{started: make(chan struct{}), release: make(chan struct{})}
}

func (e *slowExecutor) Dispatch(ctx context.Context, callID, utterance string) (string, error) {
	close(e.started)
	<-e.release
	return "done", nil
}

func TestSlowExecutorDispatchDoesNotBlockAudioPump(t *testing.T) {
	sink := &fakeCarrierSink{}
	model := newFakeModelStream(16000, 24000)
	slow := newSlowExecutor()
	cfg := brainpkg.Config{ActionKeywords: []string{"open"}}
	conv := brainpkg.New("call-1", cfg, slow, nil, logging.New("test", logging.LevelDebug))
	b := New("call-1", sink, model, conv, nil, codec.NewBank(), logging.New("test", logging.LevelDebug))
	defer b.Stop()
	defer conv.Close()

	ctx := context.Background()
	go b.modelToCarrierPump(ctx)
	go b.consumeModelEvents(ctx)

	model.events <- modelstream.Event{Kind: modelstream.EventUserTranscriptFinal, Text: "open the garage door"}

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("executor dispatch never started")
	}

	// The dispatch above is still blocked on slow.release. If it were
	// running on the event-consumption goroutine, this audio delta would
	// never be drained.
	model.events <- modelstream.Event{Kind: modelstream.EventAudioDelta, Audio: make([]byte, 960)}

	deadline := time.After(2 * time.Second)
	for sink.audioCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("audio pump was blocked while executor dispatch was pending")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(slow.release)
}

func TestUserSpeechStoppedFlushesBrainTurn(t *testing.T) {
	b, _, model := testBridge(t, 8000)
	ctx := context.Background()

	go b.consumeModelEvents(ctx)
	defer b.Stop()

	b.conv.AddUserFragment("turn the lights off")
	model.events <- modelstream.Event{Kind: modelstream.EventUserSpeechStopped}

	deadline := time.After(2 * time.Second)
	for {
		turns := b.conv.Memory().Turns()
		if len(turns) == 1 && turns[0].Text == "turn the lights off" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("user turn was not flushed on speech-stopped")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestExternalSTTSuppressesModelTranscriptFinal(t *testing.T) {
	sink := &fakeCarrierSink{}
	model := newFakeModelStream(16000, 24000)
	conv := brainpkg.New("call-1", brainpkg.Config{}, nil, nil, logging.New("test", logging.LevelDebug))
	defer conv.Close()
	// A non-nil stt is enough to exercise the suppression gate; no audio
	// is fed to it in this test.
	stt := NewExternalBatchSTT(nil, 500, 500, 16000, func(ctx context.Context, text string) {}, logging.New("test", logging.LevelDebug))
	b := New("call-1", sink, model, conv, stt, codec.NewBank(), logging.New("test", logging.LevelDebug))
	defer b.Stop()

	ctx := context.Background()
	go b.consumeModelEvents(ctx)

	model.events <- modelstream.Event{Kind: modelstream.EventUserTranscriptFinal, Text: "should be ignored"}

	time.Sleep(50 * time.Millisecond)
	if len(conv.Memory().Turns()) != 0 {
		t.Fatalf("model transcript was not suppressed while external STT is active")
	}
}

func TestUserTranscriptFinalFlushesBrainTurn(t *testing.T) {
	b, _, model := testBridge(t, 8000)
	ctx := context.Background()

	go b.consumeModelEvents(ctx)
	defer b.Stop()

	model.events <- modelstream.Event{Kind: modelstream.EventUserTranscriptFinal, Text: "open the browser"}

	deadline := time.After(2 * time.Second)
	for {
		turns := b.conv.Memory().Turns()
		if len(turns) == 1 && turns[0].Text == "open the browser" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("user turn was not flushed into brain memory")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
