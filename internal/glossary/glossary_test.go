package glossary_test

import (
	"testing"

	"github.com/MrWong99/lingoxa/internal/glossary"
)

var terms = []string{"Eldrinax", "Grimjaw", "Tower of Whispers"}

func TestCorrect(t *testing.T) {
	t.Parallel()

	g := glossary.New(terms)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "split name and multi-word term",
			in:   "elder nacks lives in the tower of wispers.",
			want: "Eldrinax lives in the Tower of Whispers.",
		},
		{
			name: "case is normalized",
			in:   "ELDRINAX arrived",
			want: "Eldrinax arrived",
		},
		{
			name: "surrounding punctuation kept",
			in:   `he said "eldrinax!" twice`,
			want: `he said "Eldrinax!" twice`,
		},
		{
			name: "unrelated text untouched",
			in:   "hello world, how  are you",
			want: "hello world, how  are you",
		},
		{
			name: "partial multi-word phrase untouched",
			in:   "the tower was tall",
			want: "the tower was tall",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := g.Correct(tt.in); got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApply_ReportsCorrections(t *testing.T) {
	t.Parallel()

	g := glossary.New(terms)
	out, corrections := g.Apply("elder nacks waits")
	if out != "Eldrinax waits" {
		t.Fatalf("Apply = %q", out)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %+v, want 1", corrections)
	}
	c := corrections[0]
	if c.Original != "elder nacks" || c.Corrected != "Eldrinax" || !c.Phonetic {
		t.Errorf("correction = %+v", c)
	}
	if c.Confidence < 0.7 || c.Confidence > 1 {
		t.Errorf("confidence = %f, want in [0.7, 1]", c.Confidence)
	}

	if _, none := g.Apply("Eldrinax waits"); none != nil {
		t.Errorf("exact term reported corrections: %+v", none)
	}
}

func TestNew_SkipsBlankAndDuplicates(t *testing.T) {
	t.Parallel()

	g := glossary.New([]string{"", "  ", "Grimjaw", "grimjaw", " Tower   of Whispers "})
	if g.Len() != 2 {
		t.Errorf("Len = %d, want 2", g.Len())
	}
	if got := g.Correct("tower of whispers"); got != "Tower of Whispers" {
		t.Errorf("normalized term not matched: %q", got)
	}
}

func TestEmptyGlossary(t *testing.T) {
	t.Parallel()

	var nilGlossary *glossary.Glossary
	for _, g := range []*glossary.Glossary{nilGlossary, glossary.New(nil)} {
		if got := g.Correct("elder nacks"); got != "elder nacks" {
			t.Errorf("Correct = %q, want input unchanged", got)
		}
	}
}

func TestThresholds(t *testing.T) {
	t.Parallel()

	strict := glossary.New(terms, glossary.WithPhoneticThreshold(0.99), glossary.WithFuzzyThreshold(0.99))
	if got := strict.Correct("elder nacks"); got != "elder nacks" {
		t.Errorf("strict glossary corrected %q", got)
	}
}
