package mixer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/audio/mixer"
	"github.com/MrWong99/chatvoice/pkg/provider/vad"
	"github.com/MrWong99/chatvoice/pkg/provider/vad/energy"
	"github.com/MrWong99/chatvoice/pkg/provider/vad/mock"
)

// ramp returns n samples with values start, start+1, ...
func ramp(n int, start int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = start + int16(i%1000)
	}
	return s
}

// constant returns n samples all equal to v.
func constant(n int, v int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func newMixer(t *testing.T, activity int, opts ...mixer.Option) (*mixer.DuckingMixer, *mock.Session) {
	t.Helper()
	sess := &mock.Session{}
	sess.SetActivity(activity)
	return mixer.New(sess, opts...), sess
}

func TestMix_ReplaceThenPlay(t *testing.T) {
	t.Parallel()

	m, _ := newMixer(t, 0)
	utt := audio.Utterance{Samples: ramp(5000, 1)}
	if mode := m.Mix(utt); mode != audio.MixReplace {
		t.Fatalf("Mix mode = %v, want replace", mode)
	}
	st := m.Stats()
	if st.Pending != 5000 || st.Cursor != 0 {
		t.Fatalf("after mix: pending=%d cursor=%d, want 5000/0", st.Pending, st.Cursor)
	}

	out := make([]int16, 100)
	m.OnPlaybackBuffer(out)
	for i := range out {
		if out[i] != utt.Samples[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], utt.Samples[i])
		}
	}
	if got := m.Stats().Cursor; got != 100 {
		t.Errorf("cursor = %d, want 100", got)
	}
}

func TestMix_DoesNotAliasCaller(t *testing.T) {
	t.Parallel()

	m, _ := newMixer(t, 0)
	samples := constant(10, 7)
	m.Mix(audio.Utterance{Samples: samples})
	samples[0] = 99

	out := make([]int16, 1)
	m.OnPlaybackBuffer(out)
	if out[0] != 7 {
		t.Errorf("buffer aliased caller slice: got %d", out[0])
	}
}

func TestPlayback_ZeroFillsPastEnd(t *testing.T) {
	t.Parallel()

	m, _ := newMixer(t, 0)
	m.Mix(audio.Utterance{Samples: constant(30, 5)})

	out := constant(100, -1)
	m.OnPlaybackBuffer(out)
	for i := 0; i < 30; i++ {
		if out[i] != 5 {
			t.Fatalf("out[%d] = %d, want 5", i, out[i])
		}
	}
	for i := 30; i < 100; i++ {
		if out[i] != 0 {
			t.Fatalf("out[%d] = %d, want 0", i, out[i])
		}
	}
	if st := m.Stats(); st.Cursor != 30 || st.Pending != 0 {
		t.Errorf("cursor=%d pending=%d, want 30/0", st.Cursor, st.Pending)
	}

	// Empty buffer keeps producing silence without moving the cursor.
	m.OnPlaybackBuffer(out)
	if st := m.Stats(); st.Cursor != 30 {
		t.Errorf("cursor moved on empty buffer: %d", st.Cursor)
	}
}

func TestPlayback_DucksOnQuietLookahead(t *testing.T) {
	t.Parallel()

	m, _ := newMixer(t, 5)
	// 1000 loud samples then exactly 2000 quiet ones.
	buf := append(constant(1000, 20000), constant(2000, 100)...)
	m.Mix(audio.Utterance{Samples: buf})

	// Loud window: plays despite activity.
	out := make([]int16, 1000)
	m.OnPlaybackBuffer(out)
	if out[0] != 20000 {
		t.Fatalf("loud window muted: out[0] = %d", out[0])
	}
	if got := m.Stats().Cursor; got != 1000 {
		t.Fatalf("cursor = %d, want 1000", got)
	}

	// Exactly 2000 quiet samples remain: true pause.
	out = constant(512, -1)
	m.OnPlaybackBuffer(out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %d, want silence", i, v)
		}
	}
	st := m.Stats()
	if st.Cursor != 1000 {
		t.Errorf("cursor moved while ducked: %d", st.Cursor)
	}
	if st.DuckedBlocks != 1 {
		t.Errorf("DuckedBlocks = %d, want 1", st.DuckedBlocks)
	}
}

func TestPlayback_ResumesVerbatimAfterDuck(t *testing.T) {
	t.Parallel()

	m, sess := newMixer(t, 5)
	m.Mix(audio.Utterance{Samples: ramp(3000, 1)})

	out := make([]int16, 256)
	for range 3 {
		m.OnPlaybackBuffer(out)
	}
	if got := m.Stats().Cursor; got != 0 {
		t.Fatalf("cursor = %d while ducked", got)
	}

	sess.SetActivity(0)
	m.OnPlaybackBuffer(out)
	for i := range out {
		if out[i] != int16(1+i) {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], 1+i)
		}
	}
}

func TestPlayback_NeverDucksShortTail(t *testing.T) {
	t.Parallel()

	m, _ := newMixer(t, 5)
	m.Mix(audio.Utterance{Samples: append(constant(2500, 9000), constant(500, 3)...)})

	// The loud head is never a pause point, so it plays through.
	head := make([]int16, 2500)
	m.OnPlaybackBuffer(head)
	if got := m.Stats().Pending; got != 500 {
		t.Fatalf("pending = %d, want 500", got)
	}

	out := make([]int16, 500)
	m.OnPlaybackBuffer(out)
	for i, v := range out {
		if v != 3 {
			t.Fatalf("out[%d] = %d, want 3 (tail must play)", i, v)
		}
	}
	if got := m.Stats().Cursor; got != 3000 {
		t.Errorf("cursor = %d, want 3000", got)
	}
}

func TestPlayback_CursorInvariant(t *testing.T) {
	t.Parallel()

	lengths := []int{1, 100, 1999, 2000, 2001, 4096}
	for _, activity := range []int{0, 1, 5} {
		for _, n := range lengths {
			m, _ := newMixer(t, activity)
			m.Mix(audio.Utterance{Samples: constant(7000, 50)})
			out := make([]int16, n)
			for range 20 {
				before := m.Stats()
				m.OnPlaybackBuffer(out)
				after := m.Stats()
				if after.Cursor < 0 || after.Cursor > before.Cursor+before.Pending {
					t.Fatalf("cursor %d out of range", after.Cursor)
				}
				advanced := after.Cursor - before.Cursor
				if advanced != 0 && advanced != min(n, before.Pending) {
					t.Fatalf("activity=%d n=%d: advanced %d, want 0 or %d",
						activity, n, advanced, min(n, before.Pending))
				}
			}
		}
	}
}

func TestMix_AppendCompactsPlayedPrefix(t *testing.T) {
	t.Parallel()

	m, _ := newMixer(t, 0)
	m.Mix(audio.Utterance{Samples: ramp(1000, 1)})
	m.OnPlaybackBuffer(make([]int16, 400))

	if mode := m.Mix(audio.Utterance{Samples: constant(200, -7)}); mode != audio.MixAppend {
		t.Fatalf("mode = %v, want append", mode)
	}
	st := m.Stats()
	if st.Cursor != 0 || st.Pending != 800 {
		t.Fatalf("cursor=%d pending=%d, want 0/800", st.Cursor, st.Pending)
	}

	out := make([]int16, 800)
	m.OnPlaybackBuffer(out)
	if out[0] != int16(1+400%1000) {
		t.Errorf("first sample after compaction = %d, want %d", out[0], 401)
	}
	if out[600] != -7 || out[799] != -7 {
		t.Errorf("appended samples misplaced: %d %d", out[600], out[799])
	}
}

func TestMix_OverlayAtCeiling(t *testing.T) {
	t.Parallel()

	format := audio.Format{SampleRate: 1000, BlockSize: 64}
	m, _ := newMixer(t, 0,
		mixer.WithFormat(format),
		mixer.WithBacklogCeiling(time.Second), // 1000 samples
	)

	m.Mix(audio.Utterance{Samples: constant(1000, 100)})
	// Backlog is exactly at the ceiling: overlay.
	mode := m.Mix(audio.Utterance{Samples: constant(1500, 50)})
	if mode != audio.MixOverlay {
		t.Fatalf("mode = %v, want overlay", mode)
	}
	st := m.Stats()
	if st.Pending != 1500 {
		t.Fatalf("pending = %d, want 1500 (extended to utterance length)", st.Pending)
	}

	out := make([]int16, 1500)
	m.OnPlaybackBuffer(out)
	if out[0] != 150 || out[999] != 150 {
		t.Errorf("overlay sum = %d/%d, want 150", out[0], out[999])
	}
	if out[1000] != 50 || out[1499] != 50 {
		t.Errorf("extension = %d/%d, want 50", out[1000], out[1499])
	}
}

func TestMix_OverlayStartsAtPlayPosition(t *testing.T) {
	t.Parallel()

	m, _ := newMixer(t, 0,
		mixer.WithFormat(audio.Format{SampleRate: 1000, BlockSize: 64}),
		mixer.WithBacklogCeiling(time.Second),
	)
	m.Mix(audio.Utterance{Samples: append(constant(200, 1), constant(1200, 2)...)})
	m.OnPlaybackBuffer(make([]int16, 200))

	m.Mix(audio.Utterance{Samples: constant(10, 10)})
	out := make([]int16, 11)
	m.OnPlaybackBuffer(out)
	if out[0] != 12 || out[9] != 12 || out[10] != 2 {
		t.Errorf("overlay not anchored at play position: %v", out)
	}
}

func TestMix_OverlayNeverLeavesClampRange(t *testing.T) {
	t.Parallel()

	m, _ := newMixer(t, 0,
		mixer.WithFormat(audio.Format{SampleRate: 100, BlockSize: 16}),
		mixer.WithBacklogCeiling(time.Second),
		mixer.WithClamp(32000),
	)

	base := make([]int16, 400)
	for i := range base {
		if i%2 == 0 {
			base[i] = 32767
		} else {
			base[i] = -32768
		}
	}
	m.Mix(audio.Utterance{Samples: base})
	m.Mix(audio.Utterance{Samples: base})
	m.Mix(audio.Utterance{Samples: append(base, base...)})

	out := make([]int16, 1000)
	m.OnPlaybackBuffer(out)
	for i, v := range out {
		if v > 32000 || v < -32000 {
			t.Fatalf("out[%d] = %d escapes clamp range", i, v)
		}
	}
}

func TestCapture_UpdatesActivityThroughSession(t *testing.T) {
	t.Parallel()

	sess, err := energy.New().NewSession(vad.Config{ThresholdDB: -12, Hold: 5})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	m := mixer.New(sess)

	m.OnCaptureBuffer(constant(4096, 30000))
	if got := m.Stats().TalkActivity; got != 5 {
		t.Fatalf("TalkActivity = %d, want 5", got)
	}
	for i := 4; i >= 0; i-- {
		m.OnCaptureBuffer(constant(4096, 10))
		if got := m.Stats().TalkActivity; got != i {
			t.Fatalf("TalkActivity = %d, want %d", got, i)
		}
	}
	if got := m.Stats().CaptureBlocks; got != 6 {
		t.Errorf("CaptureBlocks = %d, want 6", got)
	}
}

func TestCapture_CountsVADErrors(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{ProcessFrameErr: energy.ErrClosed}
	m := mixer.New(sess)
	m.OnCaptureBuffer(make([]int16, 8))
	if got := m.VADErrors(); got != 1 {
		t.Errorf("VADErrors = %d, want 1", got)
	}
	if sess.FrameCount() != 1 {
		t.Errorf("FrameCount = %d, want 1", sess.FrameCount())
	}
}

func TestConcurrentCallbacksAndMix(t *testing.T) {
	t.Parallel()

	sess, err := energy.New().NewSession(vad.Config{ThresholdDB: -12, Hold: 5})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	m := mixer.New(sess, mixer.WithFormat(audio.Format{SampleRate: 2000, BlockSize: 64}),
		mixer.WithBacklogCeiling(time.Second))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		out := make([]int16, 64)
		for range 2000 {
			m.OnPlaybackBuffer(out)
		}
	}()
	go func() {
		defer wg.Done()
		loud, quiet := constant(64, 30000), constant(64, 0)
		for i := range 2000 {
			if i%7 == 0 {
				m.OnCaptureBuffer(loud)
			} else {
				m.OnCaptureBuffer(quiet)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			m.Mix(audio.Utterance{Samples: ramp(300, -500)})
		}
	}()
	wg.Wait()

	st := m.Stats()
	if st.Cursor < 0 || st.Pending < 0 {
		t.Fatalf("invalid state: %+v", st)
	}
}

func TestMixMode_String(t *testing.T) {
	t.Parallel()

	for mode, want := range map[audio.MixMode]string{
		audio.MixReplace: "replace",
		audio.MixAppend:  "append",
		audio.MixOverlay: "overlay",
		audio.MixMode(9): "unknown",
	} {
		if got := mode.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", mode, got, want)
		}
	}
}
