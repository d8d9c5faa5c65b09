package vad

// VADEvent represents a voice activity detection result for a single capture
// block.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// PeakDB is the block's peak level in dBFS (negative infinity for silence).
	PeakDB float64

	// Activity is the talk-activity countdown after processing the block.
	Activity int
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun (activity rose from zero).
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech, including quiet blocks that
	// are still inside the hold window.
	VADSpeechContinue

	// VADSpeechEnd indicates the hold window has just run out.
	VADSpeechEnd

	// VADSilence indicates no speech detected and no activity pending.
	VADSilence
)

// String returns the event type name.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
