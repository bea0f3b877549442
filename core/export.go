package core

import (
	"encoding/json"
	"strings"

	. "github.com/stevegt/goadapt"
)

// Export formats: json, text, markdown.
const (
	FormatJSON     = "json"
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// lastProviderModel returns the provider/model of the most recent
// assistant message, for the export header.
func lastProviderModel(conv *Conversation) (provider, model string) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].ProviderID != "" {
			return conv.Messages[i].ProviderID, conv.Messages[i].ModelID
		}
	}
	return "-", "-"
}

// Export serializes a conversation.  Pure; no behavioral contract
// beyond format fidelity.
func Export(conv *Conversation, format string) (out []byte, err error) {
	defer Return(&err)
	switch format {
	case FormatJSON:
		out, err = json.MarshalIndent(conv, "", "  ")
		Ck(err)
	case FormatText:
		out = []byte(exportText(conv))
	case FormatMarkdown:
		out = []byte(exportMarkdown(conv))
	default:
		err = validationf("unknown export format: %q", format)
	}
	return
}

func exportText(conv *Conversation) string {
	provider, model := lastProviderModel(conv)
	var sb strings.Builder
	sb.WriteString(Spf("Conversation: %s\n", conv.Title))
	sb.WriteString(Spf("Persona: %s (%s)\n", personaDisplayName(conv.Persona), conv.Persona.Badge()))
	sb.WriteString(Spf("Model: %s - %s\n", provider, model))
	sb.WriteString(Spf("Created: %s\n", conv.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString("\nMessages:\n")
	sb.WriteString(strings.Repeat("-", 50) + "\n")
	for _, msg := range conv.Messages {
		ts := msg.CreatedAt.Format("2006-01-02 15:04:05")
		sb.WriteString(Spf("[%s] %s: %s", ts, titleCase(msg.Role), msg.Content))
		if msg.Incomplete {
			sb.WriteString(" [incomplete]")
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func exportMarkdown(conv *Conversation) string {
	provider, model := lastProviderModel(conv)
	var sb strings.Builder
	sb.WriteString(Spf("# %s\n\n", conv.Title))
	sb.WriteString(Spf("**Persona:** %s (%s)\n", personaDisplayName(conv.Persona), conv.Persona.Badge()))
	sb.WriteString(Spf("**Model:** %s - %s\n", provider, model))
	sb.WriteString(Spf("**Created:** %s\n\n", conv.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString("## Messages\n\n")
	for _, msg := range conv.Messages {
		sb.WriteString(Spf("**%s:** %s", titleCase(msg.Role), msg.Content))
		if msg.Incomplete {
			sb.WriteString(" *(incomplete)*")
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func personaDisplayName(p Persona) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Class
}
