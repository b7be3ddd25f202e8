// Package brain buffers incremental transcript fragments into complete
// turns, classifies user turns as conversation vs. action, and dispatches
// actionable turns to an external Executor, feeding its reply back to
// the caller through a registered callback.
package brain

import (
	"context"
	"strings"
	"sync"

	"github.com/birddigital/callbridge/internal/interfaces"
	"github.com/birddigital/callbridge/internal/logging"
)

// Config carries the fast-path phrase/keyword lists a deployment tunes
// without a code change.
type Config struct {
	QuickSkipPhrases []string
	ActionKeywords   []string
}

// ReplyFunc is invoked with an executor's reply so the caller can relay
// it through the active model stream.
type ReplyFunc func(ctx context.Context, reply string)

// dispatchQueueSize bounds how many actionable turns can be queued
// ahead of the single dispatch worker. A deployment that floods the
// executor faster than it replies will start dropping dispatches
// rather than growing the queue without bound.
const dispatchQueueSize = 8

// dispatchJob is one actionable turn waiting for its executor call.
type dispatchJob struct {
	ctx       context.Context
	callID    string
	utterance string
}

// Brain buffers transcript fragments per turn and drives intent
// classification and command dispatch. One Brain per call. Dispatch
// runs on its own worker goroutine, one job at a time, so an
// in-flight executor call never blocks the caller of FlushUserTurn —
// only one Executor call is ever outstanding per Brain.
type Brain struct {
	memory     *Memory
	executor   interfaces.Executor
	classifier Classifier
	onReply    ReplyFunc
	log        *logging.Logger

	quickSkip      map[string]struct{}
	actionKeywords []string

	mu                 sync.Mutex
	assistantFragments []string
	userFragments      []string

	dispatch  chan dispatchJob
	closed    chan struct{}
	closeOnce sync.Once
}

// New builds a Brain for one call. executor and classifier may be nil:
// a nil executor makes every turn non-actionable in effect (Dispatch is
// simply never reached because there is nothing to call); in practice
// callers always supply both.
func New(callID string, cfg Config, executor interfaces.Executor, classifier Classifier, log *logging.Logger) *Brain {
	quickSkip := make(map[string]struct{}, len(cfg.QuickSkipPhrases))
	for _, p := range cfg.QuickSkipPhrases {
		quickSkip[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	b := &Brain{
		memory:         NewMemory(callID),
		executor:       executor,
		classifier:     classifier,
		log:            log,
		quickSkip:      quickSkip,
		actionKeywords: cfg.ActionKeywords,
		dispatch:       make(chan dispatchJob, dispatchQueueSize),
		closed:         make(chan struct{}),
	}
	go b.dispatchWorker()
	return b
}

// Close stops the dispatch worker. Safe to call multiple times; any
// job still queued is dropped rather than run.
func (b *Brain) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// dispatchWorker runs every queued executor call serially, one at a
// time, so concurrent FlushUserTurn callers never produce overlapping
// Dispatch calls.
func (b *Brain) dispatchWorker() {
	for {
		select {
		case <-b.closed:
			return
		case job := <-b.dispatch:
			b.runDispatch(job)
		}
	}
}

func (b *Brain) runDispatch(job dispatchJob) {
	reply, err := b.executor.Dispatch(job.ctx, job.callID, job.utterance)
	if err != nil {
		b.log.Warn("brain: executor dispatch failed: %v", err)
		// Speak a fallback rather than leaving the caller in silence.
		reply = "Sorry, I wasn't able to get that done."
	}
	if reply == "" {
		return
	}

	b.mu.Lock()
	onReply := b.onReply
	b.mu.Unlock()
	if onReply != nil {
		onReply(job.ctx, reply)
	}
}

// SetOnReply registers the callback invoked with an executor's reply.
func (b *Brain) SetOnReply(fn ReplyFunc) {
	b.mu.Lock()
	b.onReply = fn
	b.mu.Unlock()
}

// Memory exposes the call's accumulated turns, e.g. for a call summary.
func (b *Brain) Memory() *Memory { return b.memory }

// AddAssistantFragment buffers one incremental assistant transcript
// fragment. Fragments are concatenated verbatim with no inserted
// whitespace; the model already places spaces where they belong.
func (b *Brain) AddAssistantFragment(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	b.assistantFragments = append(b.assistantFragments, text)
	b.mu.Unlock()
}

// AddUserFragment buffers one incremental user transcript fragment.
func (b *Brain) AddUserFragment(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	b.userFragments = append(b.userFragments, text)
	b.mu.Unlock()
}

// FlushAssistantTurn concatenates and records the buffered assistant
// fragments as one complete turn. A no-op if nothing is buffered.
func (b *Brain) FlushAssistantTurn() {
	b.mu.Lock()
	fragments := b.assistantFragments
	b.assistantFragments = nil
	b.mu.Unlock()

	if len(fragments) == 0 {
		return
	}
	full := strings.TrimSpace(strings.Join(fragments, ""))
	if full == "" {
		return
	}
	b.memory.AddTurn("assistant", full, "")
}

// FlushUserTurn concatenates the buffered user fragments, classifies the
// resulting turn, records it, and — if actionable — queues it for the
// dispatch worker, which calls the executor and relays the reply via
// the registered callback. A no-op if nothing is buffered, so it is
// safe to call from more than one turn-boundary trigger (an explicit
// speech-stopped event, the model's own final transcript, external
// STT) without double-dispatching: whichever trigger runs first drains
// the fragments, and any later trigger for the same turn sees none
// buffered. Returns immediately; it never blocks on the executor.
func (b *Brain) FlushUserTurn(ctx context.Context, callID string) {
	b.mu.Lock()
	fragments := b.userFragments
	b.userFragments = nil
	b.mu.Unlock()

	if len(fragments) == 0 {
		return
	}
	full := strings.TrimSpace(strings.Join(fragments, ""))
	if full == "" {
		return
	}

	intent, actionable := b.classify(ctx, full)
	b.memory.AddTurn("user", full, intent)

	if !actionable || b.executor == nil {
		return
	}

	select {
	case b.dispatch <- dispatchJob{ctx: ctx, callID: callID, utterance: full}:
	default:
		b.log.Warn("brain: dispatch queue full, dropping utterance: %q", full)
	}
}

// classify decides conversation vs. action for one user turn using, in
// order: an exact quick-skip phrase match, a leading/standalone action
// keyword match, then the LLM fallback classifier. A classifier error
// fails open (treated as actionable) so a real request is never
// silently dropped.
func (b *Brain) classify(ctx context.Context, text string) (intent string, actionable bool) {
	lower := strings.ToLower(strings.TrimSpace(text))

	if _, skip := b.quickSkip[lower]; skip || len(lower) < 3 {
		return "conversation", false
	}

	padded := " " + lower + " "
	for _, kw := range b.actionKeywords {
		if strings.HasPrefix(lower, kw) || strings.Contains(padded, " "+kw+" ") {
			return "action", true
		}
	}

	if b.classifier == nil {
		return "conversation", false
	}

	recent := b.memory.RecentContext(5)
	yes, err := b.classifier.Classify(ctx, text, recent)
	if err != nil {
		b.log.Warn("brain: classifier error, failing open to actionable: %v", err)
		return "action", true
	}
	if yes {
		return "action", true
	}
	return "conversation", false
}
