// Package normalize coerces heterogeneous enrichment payloads (AI output,
// structured scrape extractions, previously stored records) into the
// canonical model.EnrichmentRecord.
package normalize

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/venue-leads/internal/model"
)

// Capacity values outside (MinCapacity, MaxCapacity) are discarded as implausible.
const (
	MinCapacity = 20
	MaxCapacity = 2000
)

// Candidate source paths per field, most specific first.
var (
	venueNamePaths = []string{"venueName", "venue_name", "name", "businessName", "business_name"}
	overviewPaths  = []string{"aiOverview", "ai_overview", "overview", "venueDescription", "venue_description", "description", "summary"}
	managerName    = []string{
		"managementContact.name", "managementContact.managementContactName",
		"management_contact.name", "management_contact.managementContactName", "management_contact.management_contact_name",
		"eventManagerName", "event_manager_name",
		"contactInformation.name", "contactInformation.contactName",
		"contact_information.name", "contact_information.contact_name",
		"contactName", "contact_name",
	}
	managerEmail = []string{
		"managementContact.email", "managementContact.managementContactEmail",
		"management_contact.email", "management_contact.managementContactEmail", "management_contact.management_contact_email",
		"eventManagerEmail", "event_manager_email",
		"contactInformation.email", "contact_information.email",
		"email",
	}
	managerPhone = []string{
		"managementContact.phone", "managementContact.managementContactPhone",
		"management_contact.phone", "management_contact.managementContactPhone", "management_contact.management_contact_phone",
		"eventManagerPhone", "event_manager_phone",
		"contactInformation.phone", "contact_information.phone",
		"phone",
	}
	eventTypePaths = []string{"commonEventTypes", "common_event_types", "eventTypes", "event_types"}
	inHousePaths   = []string{
		"cateringInformation.inHouseCatering", "catering_information.in_house_catering",
		"inHouseCatering", "in_house_catering",
	}
	capacityPaths = []string{
		"venueDetails.capacity", "venue_details.capacity",
		"venueCapacity", "venue_capacity", "capacity",
	}
	amenityPaths   = []string{"amenities", "venueAmenities", "venue_amenities"}
	pricingPaths   = []string{"pricingInformation", "pricing_information", "pricing"}
	catererPaths   = []string{
		"cateringInformation.preferredCaterers", "catering_information.preferred_caterers",
		"preferredCaterers", "preferred_caterers",
	}
	websitePaths     = []string{"website", "websiteUrl", "website_url", "url"}
	leadScorePaths   = []string{"leadScore", "lead_score"}
	lastUpdatedPaths = []string{"lastUpdated", "last_updated"}
)

var placeholders = map[string]bool{
	"n/a":           true,
	"na":            true,
	"null":          true,
	"none":          true,
	"unknown":       true,
	"not available": true,
	"not specified": true,
	"not provided":  true,
	"undefined":     true,
}

var firstInt = regexp.MustCompile(`\d[\d,]*`)

// Normalize converts any raw payload into a canonical EnrichmentRecord.
// Unrecognized input yields an empty record. It never panics.
func Normalize(raw any) (rec model.EnrichmentRecord) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("normalize: recovered from malformed input", zap.Any("panic", r))
			rec = emptyRecord()
		}
	}()

	m := toMap(raw)
	if m == nil {
		return emptyRecord()
	}

	rec = model.EnrichmentRecord{
		VenueName:          firstString(m, venueNamePaths),
		AIOverview:         firstString(m, overviewPaths),
		EventManagerName:   firstString(m, managerName),
		EventManagerEmail:  firstString(m, managerEmail),
		EventManagerPhone:  firstString(m, managerPhone),
		CommonEventTypes:   firstSlice(m, eventTypePaths),
		InHouseCatering:    firstBool(m, inHousePaths),
		VenueCapacity:      firstCapacity(m, capacityPaths),
		Amenities:          firstSlice(m, amenityPaths),
		PricingInformation: firstString(m, pricingPaths),
		PreferredCaterers:  firstSlice(m, catererPaths),
		Website:            firstWebsite(m, websitePaths),
		LeadScore:          firstLeadScore(m, leadScorePaths),
		LastUpdated:        firstTime(m, lastUpdatedPaths),
	}
	return rec
}

// Website reduces a URL to scheme://host. Returns nil when no host can be
// recovered. A missing scheme defaults to https.
func Website(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" || placeholders[strings.ToLower(s)] {
		return nil
	}
	if !strings.Contains(s, "://") {
		s = "https://" + strings.TrimPrefix(s, "//")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil
	}
	host := strings.ToLower(u.Host)
	if strings.ContainsAny(host, " \t") {
		return nil
	}
	out := scheme + "://" + host
	return &out
}

func emptyRecord() model.EnrichmentRecord {
	return model.EnrichmentRecord{
		CommonEventTypes:  []string{},
		Amenities:         []string{},
		PreferredCaterers: []string{},
	}
}

// toMap brings every accepted input shape to a generic JSON object.
func toMap(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	case string:
		m, err := ParseAIJSON(v)
		if err != nil {
			return nil
		}
		return m
	case []byte:
		return toMap(string(v))
	case json.RawMessage:
		return toMap(string(v))
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// lookup walks a dotted path through nested objects.
func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func firstString(m map[string]any, paths []string) *string {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			if s := coerceString(v); s != nil {
				return s
			}
		}
	}
	return nil
}

func firstSlice(m map[string]any, paths []string) []string {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			if s := coerceSlice(v); len(s) > 0 {
				return s
			}
		}
	}
	return []string{}
}

func firstBool(m map[string]any, paths []string) *bool {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			if b := coerceBool(v); b != nil {
				return b
			}
		}
	}
	return nil
}

func firstCapacity(m map[string]any, paths []string) *int {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			if n := coerceInt(v); n != nil {
				if *n > MinCapacity && *n < MaxCapacity {
					return n
				}
				return nil
			}
		}
	}
	return nil
}

func firstWebsite(m map[string]any, paths []string) *string {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			if s, ok := v.(string); ok {
				if w := Website(s); w != nil {
					return w
				}
			}
		}
	}
	return nil
}

func firstLeadScore(m map[string]any, paths []string) *model.LeadScore {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		n := coerceInt(obj["score"])
		if n == nil {
			continue
		}
		score := max(0, min(100, *n))
		ls := &model.LeadScore{
			Score:     score,
			Potential: model.PotentialFor(score),
			Reasons:   coerceSlice(obj["reasons"]),
		}
		if t := coerceTime(obj["lastCalculated"]); t != nil {
			ls.LastCalculated = *t
		}
		return ls
	}
	return nil
}

func firstTime(m map[string]any, paths []string) *time.Time {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			if t := coerceTime(v); t != nil {
				return t
			}
		}
	}
	return nil
}

func coerceString(v any) *string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		s = x.String()
	case int:
		s = strconv.Itoa(x)
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || placeholders[strings.ToLower(s)] {
		return nil
	}
	return &s
}

func coerceBool(v any) *bool {
	switch x := v.(type) {
	case bool:
		return &x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "true", "y":
			return model.Bool(true)
		case "no", "false", "n":
			return model.Bool(false)
		}
	}
	return nil
}

func coerceInt(v any) *int {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return model.Int(int(math.Trunc(x)))
	case int:
		return model.Int(x)
	case int64:
		return model.Int(int(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return coerceInt(f)
		}
	case string:
		digits := firstInt.FindString(x)
		if digits == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.ReplaceAll(digits, ",", ""))
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}

func coerceSlice(v any) []string {
	var items []string
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if s := coerceString(item); s != nil {
				items = append(items, *s)
			}
		}
	case []string:
		for _, item := range x {
			if s := coerceString(item); s != nil {
				items = append(items, *s)
			}
		}
	case string:
		trimmed := strings.TrimSpace(x)
		if strings.HasPrefix(trimmed, "[") {
			var parsed []any
			if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
				return coerceSlice(parsed)
			}
		}
		if s := coerceString(trimmed); s != nil {
			items = append(items, *s)
		}
	}
	return dedupe(items)
}

func coerceTime(v any) *time.Time {
	switch x := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		return &t
	case time.Time:
		return &x
	}
	return nil
}

// dedupe removes case-insensitive duplicates, keeping the first spelling.
func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	fold := cases.Fold()
	seen := make(map[string]bool, len(items))
	for _, s := range items {
		key := fold.String(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
