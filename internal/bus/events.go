package bus

import "time"

// Topics published by the pipeline.
const (
	TopicChunkReady           = "audio.chunk_ready"
	TopicStreamOpened         = "audio.stream_opened"
	TopicStreamClosed         = "audio.stream_closed"
	TopicDecodeStarted        = "stt.decode_started"
	TopicPartial              = "stt.partial"
	TopicPartialTranscript    = "stt.partial_transcript"
	TopicFinalSentence        = "stt.final_sentence"
	TopicTranslateStarted     = "llm1.translate_started"
	TopicFormattedUpdate      = "translation.formatted_update"
	TopicTranslationReady     = "llm.translation_ready"
	TopicContextUpdateStarted = "llm2.context_update_started"
	TopicContextUpdated       = "llm2.context_update_finished"
)

// Chunk is one fixed-length window of mono float samples. Chunks are
// immutable once published.
type Chunk struct {
	ID         uint64    `json:"chunk_id"`
	DurationMs float64   `json:"duration_ms"`
	OverlapMs  float64   `json:"overlap_ms"`
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// StreamInfo is the payload of [TopicStreamOpened] and [TopicStreamClosed].
type StreamInfo struct {
	DeviceName string `json:"device_name"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// DecodeStarted is the payload of [TopicDecodeStarted].
type DecodeStarted struct {
	BufferSeconds float64 `json:"buffer_seconds"`
	Finalizing    bool    `json:"finalizing"`
}

// Partial is the payload of [TopicPartial] and [TopicPartialTranscript].
type Partial struct {
	Text string `json:"text"`
}

// FinalSentence is the payload of [TopicFinalSentence].
type FinalSentence struct {
	Text       string    `json:"sentence"`
	DetectedAt time.Time `json:"detected_at"`
}

// TranslateStarted is the payload of [TopicTranslateStarted].
type TranslateStarted struct {
	SentenceID uint64 `json:"id"`
	Original   string `json:"original"`
}

// Translation is the payload of [TopicFormattedUpdate] and
// [TopicTranslationReady].
type Translation struct {
	SentenceID uint64  `json:"id"`
	Original   string  `json:"original"`
	Translated string  `json:"translation"`
	Context    string  `json:"context"`
	LatencyMs  float64 `json:"latency_ms"`
}

// ContextUpdateStarted is the payload of [TopicContextUpdateStarted].
type ContextUpdateStarted struct {
	SentenceID uint64 `json:"id"`
	Pending    int    `json:"pending"`
}

// ContextUpdated is the payload of [TopicContextUpdated].
type ContextUpdated struct {
	Context string `json:"context"`
}
