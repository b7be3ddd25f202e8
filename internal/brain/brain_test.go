package brain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/birddigital/callbridge/internal/logging"
)

type stubExecutor struct {
	mu      sync.Mutex
	calls   int
	reply   string
	err     error
	lastMsg string
}

func (s *stubExecutor) Dispatch(ctx context.Context, callID, utterance string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.lastMsg = utterance
	s.mu.Unlock()
	return s.reply, s.err
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// waitForCalls polls until the stub executor has recorded want calls,
// since dispatch runs on Brain's own worker goroutine.
func waitForCalls(t *testing.T, exec *stubExecutor, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if exec.callCount() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d executor call(s), got %d", want, exec.callCount())
		case <-time.After(time.Millisecond):
		}
	}
}

type stubClassifier struct {
	actionable bool
	err        error
}

func (s *stubClassifier) Classify(ctx context.Context, utterance, recentContext string) (bool, error) {
	return s.actionable, s.err
}

func testConfig() Config {
	return Config{
		QuickSkipPhrases: []string{"hi", "hello", "thanks", "ok"},
		ActionKeywords:   []string{"open", "play", "send"},
	}
}

func TestFlushUserTurnConcatenatesFragmentsWithoutSpaces(t *testing.T) {
	exec := &stubExecutor{reply: ""}
	b := New("call-1", testConfig(), exec, &stubClassifier{actionable: true}, logging.New("test", logging.LevelDebug))

	b.AddUserFragment("open ")
	b.AddUserFragment("the ")
	b.AddUserFragment("browser")
	b.FlushUserTurn(context.Background(), "call-1")

	turns := b.Memory().Turns()
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].Text != "open the browser" {
		t.Fatalf("turn text = %q, want %q", turns[0].Text, "open the browser")
	}
}

func TestFlushUserTurnQuickSkipPhraseNeverDispatches(t *testing.T) {
	exec := &stubExecutor{}
	b := New("call-1", testConfig(), exec, &stubClassifier{actionable: true}, logging.New("test", logging.LevelDebug))

	b.AddUserFragment("hi")
	b.FlushUserTurn(context.Background(), "call-1")

	if exec.calls != 0 {
		t.Fatalf("executor dispatched for a quick-skip phrase")
	}
}

func TestFlushUserTurnActionKeywordDispatchesWithoutClassifier(t *testing.T) {
	exec := &stubExecutor{reply: "done"}
	// classifier would say NO; the keyword fast path must win anyway.
	b := New("call-1", testConfig(), exec, &stubClassifier{actionable: false}, logging.New("test", logging.LevelDebug))

	b.AddUserFragment("play some music please")
	b.FlushUserTurn(context.Background(), "call-1")

	waitForCalls(t, exec, 1)
}

func TestFlushUserTurnClassifierErrorFailsOpen(t *testing.T) {
	exec := &stubExecutor{reply: "ok done"}
	b := New("call-1", testConfig(), exec, &stubClassifier{err: errors.New("boom")}, logging.New("test", logging.LevelDebug))

	b.AddUserFragment("can you check something for me")
	b.FlushUserTurn(context.Background(), "call-1")

	waitForCalls(t, exec, 1)
}

func TestFlushUserTurnReplyRelayedToCallback(t *testing.T) {
	exec := &stubExecutor{reply: "it is sunny"}
	b := New("call-1", testConfig(), exec, &stubClassifier{actionable: true}, logging.New("test", logging.LevelDebug))

	var mu sync.Mutex
	var got string
	b.SetOnReply(func(ctx context.Context, reply string) {
		mu.Lock()
		got = reply
		mu.Unlock()
	})

	b.AddUserFragment("check the weather")
	b.FlushUserTurn(context.Background(), "call-1")

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		g := got
		mu.Unlock()
		if g == "it is sunny" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("onReply got %q, want %q", g, "it is sunny")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestFlushAssistantTurnConcatenatesAndRecords(t *testing.T) {
	b := New("call-1", testConfig(), nil, nil, logging.New("test", logging.LevelDebug))

	b.AddAssistantFragment("Sure, ")
	b.AddAssistantFragment("I can help with that.")
	b.FlushAssistantTurn()

	turns := b.Memory().Turns()
	if len(turns) != 1 || turns[0].Speaker != "assistant" {
		t.Fatalf("expected one assistant turn, got %+v", turns)
	}
	if turns[0].Text != "Sure, I can help with that." {
		t.Fatalf("text = %q", turns[0].Text)
	}
}

func TestFlushUserTurnEmptyBufferIsNoop(t *testing.T) {
	exec := &stubExecutor{}
	b := New("call-1", testConfig(), exec, &stubClassifier{actionable: true}, logging.New("test", logging.LevelDebug))
	b.FlushUserTurn(context.Background(), "call-1")
	if len(b.Memory().Turns()) != 0 {
		t.Fatalf("expected no turns recorded for empty buffer")
	}
	if exec.calls != 0 {
		t.Fatalf("expected no dispatch for empty buffer")
	}
}
