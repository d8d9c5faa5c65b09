// Package mixer implements the shared playback state of the speech engine.
//
// A [DuckingMixer] owns one growable mono PCM buffer, a read cursor into it
// and the VAD session that tracks microphone talk activity. Three contexts
// touch that state: the capture callback, the playback callback and the
// synthesis producer. All three serialise on a single mutex, and none of them
// performs I/O while holding it.
//
// Playback is ducked rather than cut: while the microphone is active the
// mixer only pauses at a point where the next lookahead window of buffered
// audio is already quiet, so a word in progress always finishes.
package mixer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/provider/vad"
)

// Compile-time interface assertion.
var _ audio.Mixer = (*DuckingMixer)(nil)

const (
	// DefaultLookahead is the number of buffered samples inspected when
	// deciding whether playback may pause.
	DefaultLookahead = 2000

	// DefaultBacklogCeiling is the amount of pending audio at which new
	// utterances are overlaid instead of appended.
	DefaultBacklogCeiling = 30 * time.Second

	// DefaultClamp bounds every overlaid sample to [-DefaultClamp, DefaultClamp].
	DefaultClamp = 32000
)

// Option configures a [DuckingMixer] during construction.
type Option func(*DuckingMixer)

// WithFormat sets the pipeline format. It determines how the backlog ceiling
// converts to samples.
func WithFormat(f audio.Format) Option {
	return func(m *DuckingMixer) {
		if f.SampleRate > 0 {
			m.format = f
		}
	}
}

// WithThreshold sets the dBFS level below which a lookahead window counts as
// quiet.
func WithThreshold(db float64) Option {
	return func(m *DuckingMixer) {
		m.threshold = db
	}
}

// WithLookahead sets the lookahead window in samples.
func WithLookahead(n int) Option {
	return func(m *DuckingMixer) {
		if n > 0 {
			m.lookahead = n
		}
	}
}

// WithBacklogCeiling sets the pending-audio duration at which [DuckingMixer.Mix]
// switches from appending to overlaying.
func WithBacklogCeiling(d time.Duration) Option {
	return func(m *DuckingMixer) {
		if d > 0 {
			m.ceilingDur = d
		}
	}
}

// WithClamp sets the overlay clamp limit.
func WithClamp(limit int) Option {
	return func(m *DuckingMixer) {
		if limit > 0 && limit <= 32767 {
			m.clamp = int32(limit)
		}
	}
}

// DuckingMixer is the concrete [audio.Mixer]. The zero value is not usable;
// construct with [New].
//
// All exported methods are safe for concurrent use.
type DuckingMixer struct {
	format     audio.Format
	threshold  float64
	lookahead  int
	ceilingDur time.Duration
	ceiling    int
	clamp      int32

	mu     sync.Mutex
	buf    []int16
	cursor int
	talk   vad.SessionHandle // TalkActivity lives here; touched only under mu

	ducked    atomic.Int64
	played    atomic.Int64
	captured  atomic.Int64
	vadErrors atomic.Int64
}

// New creates a [DuckingMixer] that reads talk activity from session.
// session must not be nil and must not be used by anything else; the mixer
// drives it from the capture callback under its own lock.
func New(session vad.SessionHandle, opts ...Option) *DuckingMixer {
	m := &DuckingMixer{
		format:     audio.DefaultFormat,
		threshold:  vad.DefaultThresholdDB,
		lookahead:  DefaultLookahead,
		ceilingDur: DefaultBacklogCeiling,
		clamp:      DefaultClamp,
		talk:       session,
	}
	for _, o := range opts {
		o(m)
	}
	m.ceiling = m.format.Samples(m.ceilingDur)
	return m
}

// Lookahead returns the configured lookahead window in samples.
func (m *DuckingMixer) Lookahead() int { return m.lookahead }

// OnCaptureBuffer feeds one microphone block to the VAD session, updating
// the talk activity.
func (m *DuckingMixer) OnCaptureBuffer(in []int16) {
	m.mu.Lock()
	_, err := m.talk.ProcessFrame(in)
	m.mu.Unlock()

	m.captured.Add(1)
	if err != nil {
		m.vadErrors.Add(1)
	}
}

// OnPlaybackBuffer fills out with the next block of speech, or with silence
// when the listener is talking and the upcoming audio is quiet enough to
// pause on. A silenced block leaves the cursor where it was.
func (m *DuckingMixer) OnPlaybackBuffer(out []int16) {
	m.mu.Lock()

	if m.shouldDuckLocked() {
		m.mu.Unlock()
		clear(out)
		m.ducked.Add(1)
		return
	}

	n := 0
	if m.cursor < len(m.buf) {
		n = copy(out, m.buf[m.cursor:])
		m.cursor += n
	}
	m.mu.Unlock()

	clear(out[n:])
	if n > 0 {
		m.played.Add(1)
	}
}

// shouldDuckLocked reports whether the current playback block must be
// silence. The mutex must be held.
func (m *DuckingMixer) shouldDuckLocked() bool {
	if m.talk.Activity() == 0 {
		return false
	}
	if len(m.buf)-m.cursor < m.lookahead {
		return false
	}
	window := m.buf[m.cursor : m.cursor+m.lookahead]
	return audio.PeakDBFS(window) < m.threshold
}

// Mix integrates u into the playback buffer.
//
// If nothing is pending the utterance replaces the buffer. Otherwise the
// already played prefix is dropped and the utterance is appended, unless the
// pending audio has reached the backlog ceiling, in which case it is summed
// onto the pending audio from the play position with clamping.
func (m *DuckingMixer) Mix(u audio.Utterance) audio.MixMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor >= len(m.buf) {
		m.buf = append(m.buf[:0], u.Samples...)
		m.cursor = 0
		return audio.MixReplace
	}

	n := copy(m.buf, m.buf[m.cursor:])
	m.buf = m.buf[:n]
	m.cursor = 0

	if n < m.ceiling {
		m.buf = append(m.buf, u.Samples...)
		return audio.MixAppend
	}

	for i, s := range u.Samples {
		if i < len(m.buf) {
			m.buf[i] = audio.ClampAdd(m.buf[i], s, m.clamp)
		} else {
			m.buf = append(m.buf, audio.Clamp(int32(s), m.clamp))
		}
	}
	return audio.MixOverlay
}

// Stats returns a consistent snapshot of the shared state.
func (m *DuckingMixer) Stats() audio.MixerStats {
	m.mu.Lock()
	pending := len(m.buf) - m.cursor
	cursor := m.cursor
	activity := m.talk.Activity()
	m.mu.Unlock()

	return audio.MixerStats{
		Pending:       pending,
		Cursor:        cursor,
		TalkActivity:  activity,
		Backlog:       m.format.Duration(pending),
		DuckedBlocks:  m.ducked.Load(),
		PlayedBlocks:  m.played.Load(),
		CaptureBlocks: m.captured.Load(),
	}
}

// VADErrors returns the number of capture blocks the VAD session rejected.
func (m *DuckingMixer) VADErrors() int64 { return m.vadErrors.Load() }
