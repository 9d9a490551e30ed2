package stt

import (
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/lingoxa/internal/bus"
)

// Assembler promotes punctuation-terminated transcripts to final sentences.
// It keeps no state between calls.
type Assembler struct {
	pub bus.Publisher
}

// NewAssembler returns an assembler publishing to pub.
func NewAssembler(pub bus.Publisher) *Assembler {
	return &Assembler{pub: pub}
}

// Attach subscribes the assembler to [bus.TopicPartial] on b.
func (a *Assembler) Attach(b *bus.Bus) (detach func()) {
	return b.Subscribe(bus.TopicPartial, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.Partial); ok {
			a.AddPartial(p.Text)
		}
	})
}

// AddPartial publishes text as a final sentence when it ends in '.', '?' or
// '!', and as a partial transcript otherwise. Blank text is ignored.
func (a *Assembler) AddPartial(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "?") || strings.HasSuffix(text, "!") {
		slog.Debug("stt: assembler finalized sentence", "text", text)
		a.pub.Publish(bus.TopicFinalSentence, bus.FinalSentence{Text: text, DetectedAt: time.Now()})
		return
	}
	a.pub.Publish(bus.TopicPartialTranscript, bus.Partial{Text: text})
}
