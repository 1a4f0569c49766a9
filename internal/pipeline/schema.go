package pipeline

// SchemaName identifies the venue extraction schema in AI requests.
const SchemaName = "venue_enrichment"

// VenueSchema returns the JSON Schema requested from the AI and from
// structured-extraction fetchers. Keys match model.EnrichmentRecord.
func VenueSchema() map[string]any {
	str := map[string]any{"type": "string"}
	strList := map[string]any{"type": "array", "items": str}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"venueName":          str,
			"aiOverview":         str,
			"eventManagerName":   str,
			"eventManagerEmail":  str,
			"eventManagerPhone":  str,
			"commonEventTypes":   strList,
			"inHouseCatering":    map[string]any{"type": "boolean"},
			"venueCapacity":      map[string]any{"type": "integer"},
			"amenities":          strList,
			"pricingInformation": str,
			"preferredCaterers":  strList,
			"website":            str,
		},
		"additionalProperties": false,
	}
}
