package session

import (
	"context"
	"testing"

	"github.com/birddigital/callbridge/internal/brain"
	"github.com/birddigital/callbridge/internal/config"
	"github.com/birddigital/callbridge/internal/interfaces"
	"github.com/birddigital/callbridge/internal/logging"
)

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Send(ctx context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func testManager(t *testing.T, notifier *fakeNotifier) *Manager {
	t.Helper()
	cfg := &config.Config{}
	log := logging.New("test", logging.LevelDebug)
	var n interfaces.Notifier
	if notifier != nil {
		n = notifier
	}
	return NewManager(cfg, nil, nil, nil, n, log)
}

func TestTeardownNoopWithoutCallID(t *testing.T) {
	m := testManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &Session{manager: m, log: m.log, cancel: cancel}
	// No callID was ever assigned (setup never reached the start
	// handler's record resolution), so teardown must not touch the
	// store or panic.
	sess.teardown()
	_ = ctx
}

func TestHandleAudioNoopBeforeBridgeExists(t *testing.T) {
	m := testManager(t, nil)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &Session{manager: m, log: m.log, cancel: cancel}
	sess.handleAudio([]byte{0x01, 0x02})
}

func TestNotifySummaryListsDispatchedCommands(t *testing.T) {
	notifier := &fakeNotifier{}
	m := testManager(t, notifier)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv := brain.New("call-1", brain.Config{}, nil, nil, m.log)
	conv.Memory().AddTurn("user", "open the browser", "action")
	conv.Memory().AddTurn("assistant", "sure, opening it", "")
	conv.Memory().AddTurn("user", "thanks", "conversation")

	sess := &Session{manager: m, log: m.log, cancel: cancel, callID: "call-1", conv: conv}
	sess.notifySummary(context.Background())

	if len(notifier.messages) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.messages))
	}
	got := notifier.messages[0]
	if got == "" {
		t.Fatalf("empty notification message")
	}
	if !contains(got, "open the browser") {
		t.Fatalf("summary %q missing dispatched command", got)
	}
}

func TestNotifySummaryNoActionableCommands(t *testing.T) {
	notifier := &fakeNotifier{}
	m := testManager(t, notifier)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv := brain.New("call-2", brain.Config{}, nil, nil, m.log)
	conv.Memory().AddTurn("user", "hello", "conversation")

	sess := &Session{manager: m, log: m.log, cancel: cancel, callID: "call-2", conv: conv}
	sess.notifySummary(context.Background())

	if len(notifier.messages) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.messages))
	}
	if !contains(notifier.messages[0], "no actionable commands") {
		t.Fatalf("summary %q should report no actionable commands", notifier.messages[0])
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
