package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/venue-leads/internal/model"
)

const systemPrompt = `You research event venues for a catering company.
Extract facts about the venue from the supplied lead details and website content.
Only report facts that are stated or clearly implied. Use null for anything unknown.
venueCapacity is the maximum number of guests as an integer.
inHouseCatering is true only when the venue provides its own catering.`

const extractPrompt = "Extract the venue's event manager contact, capacity, event types, catering arrangements, amenities and pricing."

// BuildPrompt assembles the user prompt from the lead identity, the
// (possibly empty) website content and any structured data the fetcher
// extracted. Content is cut to maxChars runes when maxChars > 0.
func BuildPrompt(lead model.Lead, website, content string, structured map[string]any, maxChars int) string {
	var b strings.Builder

	b.WriteString("Venue lead:\n")
	fmt.Fprintf(&b, "- Name: %s\n", lead.Name)
	fmt.Fprintf(&b, "- Website: %s\n", website)
	for _, f := range []struct{ label, value string }{
		{"Address", lead.Address},
		{"Phone", lead.Phone},
		{"Email", lead.Email},
		{"Description", lead.Description},
	} {
		if v := strings.TrimSpace(f.value); v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", f.label, v)
		}
	}

	b.WriteString("\nWebsite content:\n")
	if c := strings.TrimSpace(truncate(content, maxChars)); c != "" {
		b.WriteString("<<<\n")
		b.WriteString(c)
		b.WriteString("\n>>>\n")
	} else {
		b.WriteString("(unavailable, rely on the lead details)\n")
	}

	if len(structured) > 0 {
		if data, err := json.MarshalIndent(structured, "", "  "); err == nil {
			b.WriteString("\nStructured data already extracted from the website:\n")
			b.Write(data)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nRespond with JSON only.")
	return b.String()
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}
