package forecast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

// Defaults for PromptOptions.
const (
	DefaultPromptLanguage = "Traditional Chinese (zh-TW)"
	DefaultPromptHours    = 12
)

// PromptOptions parameterize the narration instructions. Zero values use the defaults.
type PromptOptions struct {
	Language string
	Hours    int
}

func (o PromptOptions) withDefaults() PromptOptions {
	if strings.TrimSpace(o.Language) == "" {
		o.Language = DefaultPromptLanguage
	}
	if o.Hours <= 0 {
		o.Hours = DefaultPromptHours
	}
	return o
}

var promptTemplate = template.Must(template.New("narration").Option("missingkey=error").Parse(
	`You are a professional and friendly weather presenter.
Using the following 36-hour forecast JSON for {{.LocationName}} published by the Central Weather Administration:

1. Summarize the most important weather information for the reader in a warm, conversational tone that opens with a greeting.
2. Cover the next {{.Hours}} hours and include: the weather condition (Wx), the minimum temperature (MinT), the maximum temperature (MaxT), the probability of precipitation (PoP), and clothing advice (CI).
3. Write your answer in {{.Language}}. Do not output the raw JSON.

Forecast JSON:
{{.Payload}}
`))

// BuildPromptDocument selects the prompt subset of loc. Elements are not filtered.
func BuildPromptDocument(loc models.Location) models.PromptDocument {
	return models.PromptDocument{
		LocationName:   loc.LocationName,
		WeatherElement: loc.WeatherElement,
	}
}

// EncodePromptDocument serializes doc with two-space indentation and without
// escaping non-ASCII or HTML characters. Output is byte-stable for equal input.
func EncodePromptDocument(doc models.PromptDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode prompt document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// BuildPrompt renders the narration instructions with loc's serialized forecast embedded.
func BuildPrompt(loc models.Location, opts PromptOptions) (string, error) {
	opts = opts.withDefaults()
	payload, err := EncodePromptDocument(BuildPromptDocument(loc))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = promptTemplate.Execute(&buf, struct {
		LocationName string
		Hours        int
		Language     string
		Payload      string
	}{
		LocationName: loc.LocationName,
		Hours:        opts.Hours,
		Language:     opts.Language,
		Payload:      string(payload),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}
