package copilot

import (
	"fmt"
	"strings"

	"github.com/complyon/copilot-gateway/internal/provider"
)

// Operation names used as parse context, metrics labels, and log fields.
const (
	opAnalyze  = "analyze"
	opMap      = "map"
	opGenerate = "generate"
)

// jsonOnly is appended to every system prompt. Models drift into prose when
// not reminded; the extractor tolerates fences but not commentary around the
// value.
const jsonOnly = "Respond with a single JSON value and nothing else. " +
	"No explanation before or after the JSON."

func analyzePrompt(text, regulation, jurisdiction, framework string) []provider.Message {
	system := "You are a regulatory compliance analyst. Extract every distinct " +
		"obligation from the provided legal text. For each obligation return: " +
		`id (stable slug), summary, category, actor, citation, deadline (empty ` +
		`if none), mandatory (boolean), jurisdiction. ` + jsonOnly

	var b strings.Builder
	fmt.Fprintf(&b, "Regulation: %s\n", regulation)
	fmt.Fprintf(&b, "Jurisdiction: %s\n", jurisdiction)
	fmt.Fprintf(&b, "Target compliance framework: %s\n\n", framework)
	fmt.Fprintf(&b, "Legal text:\n%s\n\n", text)
	b.WriteString(`Return: {"obligations": [...]}`)

	return []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func mapPrompt(obligations []Obligation, codeContext, framework string) []provider.Message {
	system := "You are a compliance engineer. Map each obligation onto the " +
		"target framework's controls and onto the described codebase. For each " +
		`entry return: obligation_id, control_id, code_path (empty if missing), ` +
		`status ("covered", "partial", or "missing"), rationale. ` + jsonOnly

	var b strings.Builder
	fmt.Fprintf(&b, "Framework: %s\n\n", framework)
	b.WriteString("Obligations:\n")
	for _, o := range obligations {
		fmt.Fprintf(&b, "- [%s] %s (category: %s, citation: %s)\n", o.ID, o.Summary, o.Category, o.Citation)
	}
	fmt.Fprintf(&b, "\nCodebase context:\n%s\n\n", codeContext)
	fmt.Fprintf(&b, `Return: {"framework": %q, "entries": [...]}`, framework)

	return []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func generatePrompt(obligation Obligation, language, framework string) []provider.Message {
	system := "You are a compliance engineer generating production code. " +
		"Produce code that satisfies the given obligation, idiomatic for the " +
		`requested language. Return: {"files": [{"path", "language", ` +
		`"content"}...], "notes": "..."}. ` + jsonOnly

	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\n", language)
	fmt.Fprintf(&b, "Framework: %s\n\n", framework)
	fmt.Fprintf(&b, "Obligation [%s]: %s\n", obligation.ID, obligation.Summary)
	fmt.Fprintf(&b, "Category: %s\n", obligation.Category)
	fmt.Fprintf(&b, "Citation: %s\n", obligation.Citation)
	if obligation.Deadline != "" {
		fmt.Fprintf(&b, "Deadline: %s\n", obligation.Deadline)
	}

	return []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}
