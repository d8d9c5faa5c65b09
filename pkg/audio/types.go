package audio

import "time"

// Format describes the fixed PCM format shared by every stage of the
// pipeline: signed 16-bit little-endian mono at SampleRate Hz, delivered by
// the devices in blocks of BlockSize samples.
type Format struct {
	// SampleRate in Hz (e.g., 24000).
	SampleRate int

	// BlockSize is the number of samples per device callback.
	BlockSize int
}

// DefaultFormat is the pipeline format used when nothing else is configured.
var DefaultFormat = Format{SampleRate: 24000, BlockSize: 4096}

// Samples returns the number of samples that span d at the format's rate.
func (f Format) Samples(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// Duration returns the playback duration of n samples at the format's rate.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate))
}

// Utterance is one complete synthesized waveform ready to be mixed into the
// playback buffer. Samples already include the silence lead-in.
type Utterance struct {
	// ID correlates log lines and spans for a single chat line.
	ID string

	// Speaker is the display name of the chat author.
	Speaker string

	// Samples is mono PCM at the pipeline sample rate.
	Samples []int16
}

// Len returns the number of samples in the utterance.
func (u Utterance) Len() int { return len(u.Samples) }
