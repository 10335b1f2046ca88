package floor

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBargeInCancelsActiveResponse(t *testing.T) {
	f := New()
	f.OnResponseStarted("resp_1", t0)
	d := f.OnSpeechStarted(t0.Add(500*time.Millisecond), true)
	if !d.CancelResponse || !d.FlushPlayback || d.Reason != "barge_in" || d.ResponseID != "resp_1" {
		t.Fatalf("expected cancel and flush on barge-in, got %+v", d)
	}
	if f.Stats().BargeIns != 1 {
		t.Fatalf("expected one barge-in, got %+v", f.Stats())
	}
}

func TestSpeechWhileIdleDoesNothing(t *testing.T) {
	f := New()
	d := f.OnSpeechStarted(t0, false)
	if d.CancelResponse || d.FlushPlayback {
		t.Fatalf("should not act when idle, got %+v", d)
	}
}

func TestFinishedResponseStillPlayingOnlyFlushes(t *testing.T) {
	f := New()
	f.OnResponseStarted("resp_1", t0)
	f.OnResponseDone("resp_1")
	d := f.OnSpeechStarted(t0.Add(time.Second), true)
	if d.CancelResponse {
		t.Fatalf("should not cancel a finished response")
	}
	if !d.FlushPlayback {
		t.Fatalf("expected playback flush, got %+v", d)
	}
}

func TestUserTurnsCounted(t *testing.T) {
	f := New()
	f.OnSpeechStarted(t0, false)
	f.OnSpeechStopped(t0.Add(time.Second))
	f.OnSpeechStopped(t0.Add(2 * time.Second))
	if got := f.Stats().UserTurns; got != 1 {
		t.Fatalf("expected 1 user turn, got %d", got)
	}
}
