package pipeline

import (
	"strings"

	"github.com/sells-group/venue-leads/internal/model"
	"github.com/sells-group/venue-leads/internal/normalize"
)

// ResolveWebsite returns the normalized website for a lead, taken from the
// lead's own field or else from caller-extracted data. Nil means the lead
// cannot be enriched.
func ResolveWebsite(lead model.Lead, extracted map[string]any) *string {
	if w := normalize.Website(lead.WebsiteURL); w != nil {
		return w
	}
	if len(extracted) == 0 {
		return nil
	}
	return normalize.Normalize(extracted).Website
}

// Fallback builds the minimal record used when the AI stage produced
// nothing usable. It draws only on the lead's own fields.
func Fallback(lead model.Lead, website string) map[string]any {
	raw := map[string]any{}
	put := func(key string, values ...string) {
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				raw[key] = v
				return
			}
		}
	}
	put("venueName", lead.Name)
	put("website", website)
	put("eventManagerPhone", lead.Phone, lead.ContactPhone)
	put("eventManagerEmail", lead.Email, lead.ContactEmail)
	put("eventManagerName", lead.ContactName)
	return raw
}
