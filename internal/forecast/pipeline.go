package forecast

import (
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

// Options selects which stages Run executes. Stages are independent; any
// combination is valid.
type Options struct {
	Series  bool
	Summary bool
	Prompt  bool

	Zone          *time.Location // nil means TaipeiZone
	PromptOptions PromptOptions
}

// DashboardOptions runs the chart and summary stages.
func DashboardOptions() Options {
	return Options{Series: true, Summary: true}
}

// Result is the output of one run for one location. Unrequested stages are left empty.
type Result struct {
	LocationName string               `json:"locationName"`
	Series       []models.SeriesPoint `json:"series,omitempty"`
	Summary      models.Summary       `json:"summary,omitempty"`
	Prompt       string               `json:"prompt,omitempty"`
	Warnings     []Warning            `json:"warnings,omitempty"`
}

// Run resolves name in doc and executes the selected stages.
//
// NOT_FOUND aborts with no partial output. A missing temperature element skips
// the series with a warning while the summary still runs. A PARSE_ERROR in the
// series aborts the run.
func Run(doc models.ForecastDocument, name string, opts Options) (*Result, error) {
	loc, err := ResolveLocation(doc.Locations, name)
	if err != nil {
		return nil, err
	}

	ix := IndexElements(loc.WeatherElement)
	res := &Result{LocationName: loc.LocationName}
	for _, dup := range ix.Duplicates() {
		res.Warnings = append(res.Warnings, Warning{
			Code:    CodeDuplicateElement,
			Element: dup,
			Message: fmt.Sprintf("element %s repeated; last occurrence used", dup),
		})
	}

	if opts.Series {
		series, err := ExtractSeries(ix, opts.Zone)
		var fe *Error
		switch {
		case err == nil:
			res.Series = series
		case errors.As(err, &fe) && fe.Code == CodeMissingElement:
			fe.Location = loc.LocationName
			res.Warnings = append(res.Warnings, warningFrom(fe))
		default:
			if errors.As(err, &fe) {
				fe.Location = loc.LocationName
			}
			return nil, err
		}
	}

	if opts.Summary {
		res.Summary = Summarize(ix)
		for _, line := range res.Summary {
			if !line.Available {
				res.Warnings = append(res.Warnings, warningFrom(&Error{
					Code:     Code(line.Reason),
					Location: loc.LocationName,
					Element:  line.Label,
					Index:    -1,
				}))
			}
		}
	}

	if opts.Prompt {
		prompt, err := BuildPrompt(loc, opts.PromptOptions)
		if err != nil {
			return nil, err
		}
		res.Prompt = prompt
	}
	return res, nil
}
