package stt

import (
	"testing"

	"github.com/MrWong99/lingoxa/internal/bus"
)

func TestAssembler_AddPartial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		wantTopic string
		wantText  string
	}{
		{name: "period", in: "hello world.", wantTopic: bus.TopicFinalSentence, wantText: "hello world."},
		{name: "question", in: "  are you there? ", wantTopic: bus.TopicFinalSentence, wantText: "are you there?"},
		{name: "exclamation", in: "stop!", wantTopic: bus.TopicFinalSentence, wantText: "stop!"},
		{name: "unterminated", in: "hello wor", wantTopic: bus.TopicPartialTranscript, wantText: "hello wor"},
		{name: "comma", in: "well,", wantTopic: bus.TopicPartialTranscript, wantText: "well,"},
		{name: "blank", in: "   "},
		{name: "empty", in: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := bus.New()
			log := &eventLog{}
			b.SubscribeAll(log.handle)
			NewAssembler(b).AddPartial(tt.in)

			got := log.topics()
			if tt.wantTopic == "" {
				if len(got) != 0 {
					t.Fatalf("events = %v, want none", got)
				}
				return
			}
			if len(got) != 1 || got[0] != tt.wantTopic {
				t.Fatalf("events = %v, want exactly [%s]", got, tt.wantTopic)
			}
			var text string
			switch p := log.events[0].Payload.(type) {
			case bus.FinalSentence:
				text = p.Text
			case bus.Partial:
				text = p.Text
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestAssembler_Attach(t *testing.T) {
	t.Parallel()

	b := bus.New()
	log := &eventLog{}
	b.Subscribe(bus.TopicFinalSentence, log.handle)
	detach := NewAssembler(b).Attach(b)

	b.Publish(bus.TopicPartial, bus.Partial{Text: "done."})
	detach()
	b.Publish(bus.TopicPartial, bus.Partial{Text: "again."})

	if n := len(log.events); n != 1 {
		t.Errorf("final sentences = %d, want 1", n)
	}
}
