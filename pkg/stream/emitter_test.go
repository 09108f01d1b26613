package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/notify"
	providertypes "turnrelay/pkg/provider/types"
)

func fixedClock() time.Time {
	return time.Unix(1700000000, 400_000_000)
}

func tokenData(t *testing.T, notification chat.Notification) chat.TokenData {
	t.Helper()
	data, ok := notification.Data.(chat.TokenData)
	if !ok {
		t.Fatalf("data type = %T, want chat.TokenData", notification.Data)
	}
	return data
}

func TestEmitNumbersTokensFromOne(t *testing.T) {
	recorder := &notify.Recorder{}
	emitter := NewEmitter(context.Background(), recorder, "u1", "s1", WithClock(fixedClock))

	tokens := []providertypes.Token{
		providertypes.TextToken("Hel"),
		providertypes.TextToken(""),
		{Fragments: []providertypes.Fragment{{Type: "text", Text: "lo"}, {Type: "image"}, {Type: "text", Text: " there"}}},
		{Fragments: []providertypes.Fragment{{Type: "image"}}},
		providertypes.TextToken("!"),
	}
	for _, token := range tokens {
		emitter.Handle("run-1", token)
	}

	notifications := recorder.Notifications()
	want := []string{"Hel", "lo there", "!"}
	if len(notifications) != len(want) {
		t.Fatalf("notifications = %d, want %d", len(notifications), len(want))
	}
	for i, notification := range notifications {
		data := tokenData(t, notification)
		if data.Token.SequenceNumber != i+1 {
			t.Fatalf("sequence[%d] = %d, want %d", i, data.Token.SequenceNumber, i+1)
		}
		if data.Token.Value != want[i] {
			t.Fatalf("value[%d] = %q, want %q", i, data.Token.Value, want[i])
		}
		if data.Token.RunID != "run-1" || data.SessionID != "s1" {
			t.Fatalf("data = %+v", data)
		}
		if notification.UserID != "u1" || notification.Action != chat.NotifyNewToken || notification.Timestamp != "1700000000" {
			t.Fatalf("notification = %+v", notification)
		}
	}
	if emitter.Sequence() != 3 {
		t.Fatalf("Sequence() = %d, want 3", emitter.Sequence())
	}
}

func TestEmitRespectsDisabledStreaming(t *testing.T) {
	recorder := &notify.Recorder{}
	disabled := false
	emitter := NewEmitter(context.Background(), recorder, "u1", "s1", WithDisabled(func() bool { return disabled }))

	emitter.Handle("r", providertypes.TextToken("a"))
	disabled = true
	if emitter.Emit("r", providertypes.TextToken("b")) {
		t.Fatal("expected disabled emitter to drop token")
	}
	disabled = false
	emitter.Handle("r", providertypes.TextToken("c"))

	notifications := recorder.Notifications()
	if len(notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifications))
	}
	if got := tokenData(t, notifications[1]).Token.SequenceNumber; got != 2 {
		t.Fatalf("second sequence = %d, want 2 (no gap)", got)
	}
}

func TestEmitContinuesAfterDeliveryFailure(t *testing.T) {
	calls := 0
	failing := notify.Func(func(context.Context, chat.Notification) error {
		calls++
		return errors.New("relay down")
	})
	hooked := 0
	emitter := NewEmitter(context.Background(), failing, "u1", "s1", WithEmitHook(func() { hooked++ }))

	emitter.Handle("r", providertypes.TextToken("a"))
	emitter.Handle("r", providertypes.TextToken("b"))

	if calls != 2 || hooked != 2 || emitter.Sequence() != 2 {
		t.Fatalf("calls=%d hooked=%d sequence=%d, want 2/2/2", calls, hooked, emitter.Sequence())
	}
}

func TestEmittersAreIndependentPerRun(t *testing.T) {
	recorder := &notify.Recorder{}
	first := NewEmitter(context.Background(), recorder, "u1", "s1")
	second := NewEmitter(context.Background(), recorder, "u2", "s2")

	first.Handle("r1", providertypes.TextToken("a"))
	first.Handle("r1", providertypes.TextToken("b"))
	second.Handle("r2", providertypes.TextToken("c"))

	if first.Sequence() != 2 || second.Sequence() != 1 {
		t.Fatalf("sequences = %d/%d, want 2/1", first.Sequence(), second.Sequence())
	}
}
