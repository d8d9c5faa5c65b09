package tts

// VoiceProfile describes one voice offered by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier used in SSML.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Locale is the BCP-47 locale the voice speaks (e.g., "en-US").
	Locale string

	// Gender is the provider-reported gender, if any.
	Gender string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (voice type, status, etc.).
	Metadata map[string]string
}
