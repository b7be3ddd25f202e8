// Package session binds one phone call's CarrierStream, ModelStream,
// Bridge, and Brain together for the call's lifetime, per the binding
// and teardown rules for handling one call end to end: construct the
// model connection once the carrier's start event names the call,
// wire the audio/transcript plumbing, and reconcile the persisted
// record through to a terminal status on hangup.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/birddigital/callbridge/internal/brain"
	"github.com/birddigital/callbridge/internal/bridge"
	"github.com/birddigital/callbridge/internal/carrier"
	"github.com/birddigital/callbridge/internal/codec"
	"github.com/birddigital/callbridge/internal/config"
	"github.com/birddigital/callbridge/internal/interfaces"
	"github.com/birddigital/callbridge/internal/logging"
	"github.com/birddigital/callbridge/internal/modelstream"
	"github.com/birddigital/callbridge/internal/store"
)

const (
	openaiRealtimeEndpoint = "wss://api.openai.com/v1/realtime"
	geminiLiveEndpoint     = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	systemPersonaTemplate = "You are a helpful voice assistant speaking with a caller over the phone. %s"
	defaultGreeting       = "Hello, how can I help you today?"
)

// Manager constructs a Session for every carrier media-stream
// connection and tracks the active ones, which the HTTP layer uses to
// count and end calls. Placing and listing calls go through the carrier
// REST client and the store, not the Manager.
type Manager struct {
	cfg        *config.Config
	store      *store.Store
	executor   interfaces.Executor
	classifier brain.Classifier
	notifier   interfaces.Notifier
	log        *logging.Logger

	mu     sync.Mutex
	active map[string]*Session
}

// NewManager builds a Manager. classifier, executor, and notifier may
// all be nil; their absence degrades gracefully (no classifier means
// only the quick-skip/keyword fast paths apply, no executor means
// every actionable turn is recorded but never dispatched, no notifier
// means end-of-call summaries are simply not sent).
func NewManager(cfg *config.Config, st *store.Store, executor interfaces.Executor, classifier brain.Classifier, notifier interfaces.Notifier, log *logging.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		store:      st,
		executor:   executor,
		classifier: classifier,
		notifier:   notifier,
		log:        log,
		active:     make(map[string]*Session),
	}
}

// ActiveCount returns the number of calls currently bridged.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// End forcibly tears down an active call. Returns false if callID is
// not currently active.
func (m *Manager) End(callID string) bool {
	m.mu.Lock()
	s, ok := m.active[callID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	if s.carrierStream != nil {
		s.carrierStream.Close()
	}
	return true
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[s.callID] = s
}

func (m *Manager) unregister(s *Session) {
	if s.callID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, s.callID)
}

// Session owns exactly one call's CarrierStream, ModelStream, Bridge,
// and Brain. Bridge only borrows the two streams; Brain exclusively
// owns its Memory and the outbound Executor calls it makes.
type Session struct {
	manager       *Manager
	callID        string
	carrierCallID string
	log           *logging.Logger

	carrierStream *carrier.Stream
	model         modelstream.ModelStream
	conv          *brain.Brain
	br            *bridge.Bridge

	cancel    context.CancelFunc
	setupErr  error
	startedAt time.Time
}

// ServeMediaStream upgrades r to the carrier's media-stream WebSocket
// and runs the resulting Session to completion. It blocks until the
// call ends, so callers typically invoke it as the body of an HTTP
// handler dispatched on its own goroutine by net/http.
func (m *Manager) ServeMediaStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{manager: m, log: m.log, cancel: cancel, startedAt: time.Now()}

	cb := carrier.Callbacks{
		OnStart: func(p carrier.StartPayload) { sess.handleStart(ctx, p) },
		OnAudio: func(payload []byte) { sess.handleAudio(payload) },
		OnStop:  func() { sess.handleStop() },
	}

	stream, err := carrier.Accept(w, r, cb, m.log)
	if err != nil {
		m.log.Error("session: accept media stream: %v", err)
		cancel()
		return
	}
	sess.carrierStream = stream

	if err := stream.ReceiveLoop(); err != nil {
		m.log.Warn("session: receive loop ended: %v", err)
	}

	sess.teardown()
}

// handleStart runs on the carrier stream's single receive goroutine
// the moment the "start" event arrives. It resolves the pending call
// record, connects the model stream, and wires the bridge and brain —
// steps 2 through 4 of the lifecycle. A panic here is recovered,
// logged, and converted into a teardown trigger rather than crashing
// the process.
func (s *Session) handleStart(ctx context.Context, p carrier.StartPayload) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session: panic during setup: %v", r)
			s.setupErr = fmt.Errorf("panic during setup: %v", r)
			s.cancel()
		}
	}()

	s.carrierCallID = p.CallSID
	prompt := p.CustomParameters["prompt"]

	rec, err := s.manager.store.GetByCarrierCallID(ctx, p.CallSID)
	if err != nil {
		s.callID = uuid.NewString()
		rec = &store.CallSession{
			CallID:        s.callID,
			CarrierCallID: p.CallSID,
			Prompt:        prompt,
			Direction:     store.DirectionInbound,
			Status:        store.StatusInitiating,
			StartTime:     time.Now(),
			Metadata:      map[string]interface{}{},
		}
		if err := s.manager.store.Create(ctx, rec); err != nil {
			s.log.Warn("session: create fallback call record: %v", err)
		}
	} else {
		s.callID = rec.CallID
		if rec.Prompt != "" {
			prompt = rec.Prompt
		}
	}

	s.log = s.log.With(s.callID)
	s.manager.register(s)

	if err := s.manager.store.UpdateStatus(ctx, s.callID, store.StatusInProgress, ""); err != nil {
		s.log.Warn("session: mark in-progress: %v", err)
	}

	model, voice := s.manager.newModelStream()
	systemInstruction := fmt.Sprintf(systemPersonaTemplate, prompt)
	if err := model.Connect(ctx, systemInstruction, voice, defaultGreeting); err != nil {
		s.log.Error("session: model connect failed: %v", err)
		s.setupErr = fmt.Errorf("model connect: %w", err)
		if uerr := s.manager.store.UpdateStatus(context.Background(), s.callID, store.StatusFailed, err.Error()); uerr != nil {
			s.log.Warn("session: mark failed: %v", uerr)
		}
		s.cancel()
		return
	}
	s.model = model

	brainCfg := brain.Config{
		QuickSkipPhrases: s.manager.cfg.Brain.QuickSkipPhrases,
		ActionKeywords:   s.manager.cfg.Brain.ActionKeywords,
	}
	s.conv = brain.New(s.callID, brainCfg, s.manager.executor, s.manager.classifier, s.log)

	var stt *bridge.ExternalBatchSTT
	if s.manager.cfg.ExternalSTT.Enabled && !s.manager.cfg.ModelB.Enabled {
		transcriber := bridge.NewWhisperTranscriber(s.manager.cfg.ExternalSTT.APIKey, s.log.With("ExternalSTT"))
		onTranscript := func(ctx context.Context, text string) {
			s.conv.AddUserFragment(text)
			s.conv.FlushUserTurn(ctx, s.callID)
		}
		stt = bridge.NewExternalBatchSTT(
			transcriber,
			float64(s.manager.cfg.ExternalSTT.SilenceThresholdRMS),
			s.manager.cfg.ExternalSTT.SilenceDurationMS,
			model.InputRate(),
			onTranscript,
			s.log.With("ExternalSTT"),
		)
	}

	s.br = bridge.New(s.callID, s.carrierStream, model, s.conv, stt, codec.NewBank(), s.log)
	s.conv.SetOnReply(s.br.OnReplyFromBrain)

	go s.runBridge(ctx)
}

// runBridge runs the bridge's pumps for the life of the call. Its own
// panic is recovered and converted into a teardown trigger; Bridge.Run
// returning at all (normally via ctx cancellation or the model's event
// channel closing) also triggers teardown.
func (s *Session) runBridge(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session: panic in bridge: %v", r)
		}
		s.cancel()
	}()
	s.br.Run(ctx)
}

// handleAudio forwards one inbound media frame to the bridge. The
// carrier stream dispatches events one at a time off a single
// goroutine, so this never runs concurrently with handleStart. It can
// still run while br is nil: the carrier stream counts but does not
// reject media frames that arrive before "start", and setup may have
// failed. Such frames are dropped.
func (s *Session) handleAudio(payload []byte) {
	if s.br == nil {
		return
	}
	s.br.OnCarrierAudio(payload)
}

func (s *Session) handleStop() {
	if s.br == nil {
		s.cancel()
		return
	}
	s.br.OnCarrierStop()
}

// teardown runs once the carrier WebSocket's receive loop has ended,
// for any reason: normal hangup, a carrier disconnect, or a fatal
// setup error. It closes both streams, reconciles the persisted
// record to a terminal status, and emits a best-effort end-of-call
// summary.
func (s *Session) teardown() {
	s.cancel()
	s.manager.unregister(s)

	if s.br != nil {
		s.br.Stop()
	}
	if s.conv != nil {
		s.conv.Close()
	}
	if s.model != nil {
		if err := s.model.Disconnect(); err != nil {
			s.log.Warn("session: disconnect model: %v", err)
		}
	}
	if s.carrierStream != nil {
		s.carrierStream.Close()
	}

	if s.callID == "" {
		// Setup never got far enough to resolve or synthesize a record.
		return
	}

	finalCtx, finalCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer finalCancel()

	status := store.StatusCompleted
	errMsg := ""
	if s.setupErr != nil {
		status = store.StatusFailed
		errMsg = s.setupErr.Error()
	}
	if err := s.manager.store.UpdateStatus(finalCtx, s.callID, status, errMsg); err != nil {
		s.log.Warn("session: finalize status: %v", err)
	}

	if s.conv != nil {
		if err := s.manager.store.SetTranscript(finalCtx, s.callID, s.conv.Memory().Summary()); err != nil {
			s.log.Warn("session: save transcript: %v", err)
		}
	}

	s.notifySummary(finalCtx)
}

// notifySummary sends a one-line end-of-call summary: either the list
// of dispatched commands or "no actionable commands". Failures are
// logged and swallowed, per the Notifier contract.
func (s *Session) notifySummary(ctx context.Context) {
	if s.manager.notifier == nil {
		return
	}

	summary := "no actionable commands"
	if s.conv != nil {
		var dispatched []string
		for _, t := range s.conv.Memory().Turns() {
			if t.Speaker == "user" && t.Intent == "action" {
				dispatched = append(dispatched, t.Text)
			}
		}
		if len(dispatched) > 0 {
			summary = "dispatched: " + strings.Join(dispatched, "; ")
		}
	}

	if err := s.manager.notifier.Send(ctx, fmt.Sprintf("call %s ended: %s", s.callID, summary)); err != nil {
		s.log.Warn("session: notify summary: %v", err)
	}
}

// newModelStream picks the configured real-time model variant. Variant
// B (inferred turn boundaries) is used only when explicitly enabled;
// variant A (explicit server-side VAD) is the default.
func (m *Manager) newModelStream() (modelstream.ModelStream, string) {
	if m.cfg.ModelB.Enabled {
		return modelstream.NewVariantB(geminiLiveEndpoint, m.cfg.ModelB.APIKey, m.cfg.ModelB.Model, m.log.With("ModelB")), m.cfg.ModelB.Voice
	}
	return modelstream.NewVariantA(openaiRealtimeEndpoint, m.cfg.ModelA.APIKey, m.cfg.ModelA.Model, m.log.With("ModelA")), m.cfg.ModelA.Voice
}
