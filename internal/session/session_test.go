package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStore_CreateGeneratesUniqueIDs(t *testing.T) {
	st := NewStore(0)
	a, err := st.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, _ := st.Create("")
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("ids not unique: %q %q", a.ID(), b.ID())
	}
	if st.Len() != 2 {
		t.Errorf("Len = %d, want 2", st.Len())
	}
}

func TestStore_CreateExplicitIDTwice(t *testing.T) {
	st := NewStore(0)
	if _, err := st.Create("call-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := st.Create("call-1"); !errors.Is(err, ErrExists) {
		t.Errorf("err = %v, want ErrExists", err)
	}
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	st := NewStore(0)
	sess, _ := st.Create("call-1")
	if !st.Remove("call-1") {
		t.Fatal("first Remove should report removal")
	}
	if st.Remove("call-1") {
		t.Error("second Remove should be a no-op")
	}
	if st.Remove("never-existed") {
		t.Error("Remove of missing id should be a no-op")
	}
	if _, ok := st.Get("call-1"); ok {
		t.Error("session still present")
	}
	if sess.State() != StateEnded {
		t.Errorf("state = %v, want ended", sess.State())
	}
}

func TestStore_ConcurrentRemoveCountsOnce(t *testing.T) {
	st := NewStore(0)
	st.Create("call-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	removed := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st.Remove("call-1") {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if removed != 1 {
		t.Errorf("removed %d times, want 1", removed)
	}
}

func TestSession_AudioIgnoredBeforeAnswer(t *testing.T) {
	sess := newSession("c", 0, time.Now())
	if sess.AppendAudio([]byte{1, 2}, time.Now()) {
		t.Fatal("audio accepted before answer")
	}
	if sess.RecognitionActive() {
		t.Error("recognition active before answer")
	}
	if !sess.MarkAnswered("prov-1") {
		t.Fatal("MarkAnswered failed")
	}
	if !sess.RecognitionActive() || sess.ProviderSessionID() != "prov-1" {
		t.Errorf("snapshot after answer: %+v", sess.Snapshot())
	}
	if sess.MarkAnswered("prov-2") {
		t.Error("second answer should not transition")
	}
	if sess.ProviderSessionID() != "prov-1" {
		t.Error("provider id overwritten")
	}
}

func TestSession_TakeIdleAudioClearsBuffer(t *testing.T) {
	start := time.Now()
	sess := newSession("c", 0, start)
	sess.MarkAnswered("p")
	sess.AppendAudio([]byte{1, 2, 3}, start)

	if _, ok := sess.TakeIdleAudio(start.Add(time.Second), 1500*time.Millisecond); ok {
		t.Fatal("flushed before idle threshold")
	}
	data, ok := sess.TakeIdleAudio(start.Add(2*time.Second), 1500*time.Millisecond)
	if !ok || len(data) != 3 {
		t.Fatalf("TakeIdleAudio = %v, %v", data, ok)
	}
	snap := sess.Snapshot()
	if snap.BufferedBytes != 0 {
		t.Errorf("buffer not cleared: %d bytes", snap.BufferedBytes)
	}
	if !snap.WaitingForResponse {
		t.Error("session should be answering")
	}

	// Audio keeps buffering during the turn but cannot start another one.
	sess.AppendAudio([]byte{4}, start.Add(2*time.Second))
	if _, ok := sess.TakeIdleAudio(start.Add(10*time.Second), time.Second); ok {
		t.Error("flushed while answering")
	}
	sess.EndTurn()
	if sess.State() != StateListening {
		t.Errorf("state = %v, want listening", sess.State())
	}
}

func TestSession_BeginTurnGuard(t *testing.T) {
	sess := newSession("c", 0, time.Now())
	if sess.BeginTurn() {
		t.Fatal("turn began before answer")
	}
	sess.MarkAnswered("p")
	sess.AppendAudio([]byte{9, 9}, time.Now())
	if !sess.BeginTurn() {
		t.Fatal("BeginTurn failed from listening")
	}
	if sess.BeginTurn() {
		t.Error("overlapping turn allowed")
	}
	if sess.Snapshot().BufferedBytes != 0 {
		t.Error("BeginTurn must clear the buffer")
	}
	sess.SetQuestion("q")
	sess.EndTurn()
	if snap := sess.Snapshot(); snap.CurrentQuestion != "" || snap.WaitingForResponse {
		t.Errorf("turn state not cleared: %+v", snap)
	}
}

func TestSession_HistoryWindow(t *testing.T) {
	sess := newSession("c", 3, time.Now())
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		sess.AppendHistory(SpeakerClient, text, time.Now())
	}
	all := sess.RecentHistory(0)
	if len(all) != 3 || all[0].Text != "c" || all[2].Text != "e" {
		t.Errorf("history = %+v", all)
	}
	last := sess.RecentHistory(2)
	if len(last) != 2 || last[0].Text != "d" {
		t.Errorf("RecentHistory(2) = %+v", last)
	}
}
