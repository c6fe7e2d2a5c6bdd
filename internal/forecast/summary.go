package forecast

import "github.com/kjstillabower/forecast-digest-service/internal/models"

// Summarize reports the soonest period of every element except MinT and MaxT,
// in original element order. It never fails: elements without a usable value
// get the "no data available" display text and a Reason code.
func Summarize(ix *Index) models.Summary {
	summary := make(models.Summary, 0, ix.Len())
	for _, name := range ix.Names() {
		if isTemperatureElement(name) {
			continue
		}
		entries, _ := ix.Entries(name)
		summary = append(summary, summarizeElement(name, entries))
	}
	return summary
}

func summarizeElement(name string, entries []models.TimeEntry) models.SummaryLine {
	line := models.SummaryLine{Label: name}
	if len(entries) == 0 {
		line.Reason = string(CodeEmptyTimeSeries)
		return line
	}
	v := entries[0].Value
	switch v.Kind {
	case models.ValueParametric:
		line.Value = v.Parameter.ParameterName
		line.Available = true
	case models.ValueMeasured:
		line.Value = v.Measures[0].Value
		line.Unit = v.Measures[0].Measures
		line.Available = true
	case models.ValueAbsent:
		line.Reason = string(CodeUnknownValueShape)
	}
	return line
}

func isTemperatureElement(name string) bool {
	return name == MinTemperatureElement || name == MaxTemperatureElement
}
