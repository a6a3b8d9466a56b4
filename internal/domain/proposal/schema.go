package proposal

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://sectordesk.schemas.local/"

var (
	proposalSchema = mustCompile("proposal.schema.json")
	decisionSchema = mustCompile("decision.schema.json")
)

func mustCompile(name string) *jsonschema.Schema {
	src, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("proposal: read schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBaseURL + name
	if err := c.AddResource(url, strings.NewReader(string(src))); err != nil {
		panic(fmt.Sprintf("proposal: load schema %s: %v", name, err))
	}
	return c.MustCompile(url)
}

// snake_case spellings some models emit instead of the documented keys.
var keyAliases = map[string]string{
	"allocation_percent": "allocationPercent",
	"risk_score":         "riskScore",
	"target_ratios":      "targetRatios",
}

// decodeDocument extracts the JSON object from raw model output, canonicalizes
// aliased keys and upper-cases the action, then validates it against schema.
func decodeDocument(raw string, schema *jsonschema.Schema) (map[string]any, error) {
	body := ExtractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON object in output")
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	for alias, key := range keyAliases {
		if v, ok := doc[alias]; ok {
			if _, exists := doc[key]; !exists {
				doc[key] = v
			}
			delete(doc, alias)
		}
	}
	if a, ok := doc["action"].(string); ok {
		doc["action"] = strings.ToUpper(strings.TrimSpace(a))
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return doc, nil
}

// ExtractJSON pulls a JSON object out of free-form model output, stripping
// markdown code fences or surrounding prose. Returns "" if none is found.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	// Strip markdown code fences
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// Find first { and last }
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}

func number(doc map[string]any, key string) (float64, bool) {
	v, ok := doc[key].(float64)
	return v, ok
}

func text(doc map[string]any, key string) string {
	v, _ := doc[key].(string)
	return strings.TrimSpace(v)
}
