package audio

import "time"

// MixMode records how an [Utterance] was integrated into the playback buffer.
type MixMode int

const (
	// MixReplace means nothing was pending, so the utterance became the whole
	// buffer.
	MixReplace MixMode = iota

	// MixAppend means the utterance was queued after the pending audio.
	MixAppend

	// MixOverlay means the backlog was at or above the ceiling and the
	// utterance was summed onto the pending audio with clamping.
	MixOverlay
)

// String returns the human-readable name of the mix mode.
func (m MixMode) String() string {
	switch m {
	case MixReplace:
		return "replace"
	case MixAppend:
		return "append"
	case MixOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// MixerStats is a point-in-time snapshot of the shared playback state.
type MixerStats struct {
	// Pending is the number of buffered samples not yet played.
	Pending int

	// Cursor is the read position inside the playback buffer.
	Cursor int

	// TalkActivity is the current microphone activity countdown.
	TalkActivity int

	// Backlog is Pending expressed as playback time.
	Backlog time.Duration

	// DuckedBlocks counts playback callbacks answered with silence.
	DuckedBlocks int64

	// PlayedBlocks counts playback callbacks that emitted buffered audio.
	PlayedBlocks int64

	// CaptureBlocks counts capture callbacks processed.
	CaptureBlocks int64
}

// Mixer owns the playback buffer shared by the device callbacks and the
// synthesis producer. It implements [Callbacks] for the device side and
// accepts finished utterances from the producer side.
//
// Implementations must be safe for concurrent use.
type Mixer interface {
	Callbacks

	// Mix integrates u into the playback buffer and reports how it was
	// integrated. Mix performs no I/O and never blocks beyond the mixer lock.
	Mix(u Utterance) MixMode

	// Stats returns a consistent snapshot of the shared state.
	Stats() MixerStats
}
