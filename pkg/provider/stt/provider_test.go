package stt_test

import (
	"testing"

	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "auto", want: ""},
		{in: " AUTO ", want: ""},
		{in: "en", want: "en"},
		{in: "De", want: "de"},
	}
	for _, tt := range tests {
		if got := stt.NormalizeLanguage(tt.in); got != tt.want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
