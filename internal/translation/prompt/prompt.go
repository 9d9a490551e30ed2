// Package prompt builds the user prompts sent to the translation and
// summarisation models. All functions are pure.
package prompt

import (
	"fmt"
	"strings"
)

// DefaultTargetLanguage is used when no target language is configured.
const DefaultTargetLanguage = "Traditional Chinese"

// Translation asks the model to translate sentence into targetLanguage,
// resolving pronouns against the scenario context.
func Translation(sentence, context, targetLanguage string) string {
	if strings.TrimSpace(targetLanguage) == "" {
		targetLanguage = DefaultTargetLanguage
	}
	var b strings.Builder
	b.WriteString("You are a real-time translation assistant.\n")
	fmt.Fprintf(&b, "Translate the following sentence into %s accurately.\n\n", targetLanguage)
	b.WriteString("Key Instruction:\n")
	b.WriteString("- Identify pronouns (I, you, he, she, they) and resolve their references based on the context.\n")
	b.WriteString("- Name the subject explicitly when the context makes the reference clear, instead of a generic pronoun.\n")
	b.WriteString("- Preserve the original tone and meaning.\n\n")
	b.WriteString("Scenario Context:\n")
	b.WriteString(context)
	b.WriteString("\n\nSentence to Translate:\n")
	fmt.Fprintf(&b, "%q\n\n", sentence)
	b.WriteString("Output only the translation, without explanation.")
	return b.String()
}

// Summary asks the model to fold newText into the previous scenario context.
// useOriginal selects the label for newText: source-language sentences or
// their translations.
func Summary(oldContext, newText string, useOriginal bool) string {
	label := "New Translated Sentence"
	if useOriginal {
		label = "New Sentence"
	}
	var b strings.Builder
	b.WriteString("You are a summarization assistant.\n")
	b.WriteString("Update the scenario context to reflect the latest sentence.\n\n")
	b.WriteString("Previous Context:\n")
	b.WriteString(oldContext)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s:\n%s\n\n", label, newText)
	b.WriteString("Return a concise updated context summary (max 500 tokens). Output only the summary.")
	return b.String()
}
