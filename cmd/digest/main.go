// Command digest runs the forecast pipeline once from the command line, against
// a saved datastore response (--input) or the live API configured in config/.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/client"
	"github.com/kjstillabower/forecast-digest-service/internal/config"
	"github.com/kjstillabower/forecast-digest-service/internal/forecast"
	"github.com/kjstillabower/forecast-digest-service/internal/llm"
	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  digest summary   --location 臺北市 [--input F-C0032-001.json] [--json]")
	fmt.Fprintln(w, "  digest series    --location 臺北市 [--input F-C0032-001.json] [--json]")
	fmt.Fprintln(w, "  digest prompt    --location 臺北市 [--input F-C0032-001.json] [--lang English] [--hours 12]")
	fmt.Fprintln(w, "  digest narrate   --location 臺北市 [--input F-C0032-001.json] [--provider anthropic|openai]")
	fmt.Fprintln(w, "  digest locations [--input F-C0032-001.json]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "notes:")
	fmt.Fprintln(w, "  - without --input the dataset is fetched using config/{ENV_NAME}.yaml and CWA_API_KEY")
	fmt.Fprintln(w, "  - narrate reads ANTHROPIC_API_KEY or OPENAI_API_KEY")
}

type options struct {
	location string
	input    string
	lang     string
	hours    int
	provider string
	model    string
	asJSON   bool
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}
	cmd := args[0]
	switch cmd {
	case "summary", "series", "prompt", "narrate", "locations":
	case "-h", "--help", "help":
		usage(stdout)
		return 0
	default:
		usage(stderr)
		return 2
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.location, "location", "臺北市", "Location name, matched exactly")
	fs.StringVar(&opts.input, "input", "", "Path to a saved datastore JSON response (default: fetch live)")
	fs.StringVar(&opts.lang, "lang", "", "Language the narration should be written in")
	fs.IntVar(&opts.hours, "hours", 0, "Hours the narration should cover")
	fs.StringVar(&opts.provider, "provider", os.Getenv("NARRATOR_PROVIDER"), "Narrator provider: anthropic or openai")
	fs.StringVar(&opts.model, "model", "", "Narrator model (default: provider default)")
	fs.BoolVar(&opts.asJSON, "json", false, "Write JSON instead of text")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	src, err := loadSource(ctx, opts.input)
	if err != nil {
		fmt.Fprintf(stderr, "digest: %v\n", err)
		return 1
	}

	switch cmd {
	case "locations":
		err = cmdLocations(stdout, src.doc, opts)
	case "narrate":
		err = cmdNarrate(ctx, stdout, stderr, src, opts)
	default:
		err = cmdDigest(stdout, stderr, cmd, src, opts)
	}
	if err != nil {
		fmt.Fprintf(stderr, "digest: %v\n", err)
		if forecast.CodeOf(err) == forecast.CodeNotFound {
			fmt.Fprintf(stderr, "available: %s\n", strings.Join(forecast.LocationNames(src.doc.Locations), ", "))
		}
		return 1
	}
	return 0
}

// source is the dataset plus the configuration it was fetched with (nil for --input).
type source struct {
	doc models.ForecastDocument
	cfg *config.Config
}

func loadSource(ctx context.Context, input string) (source, error) {
	if input != "" {
		body, err := os.ReadFile(input)
		if err != nil {
			return source{}, fmt.Errorf("read input: %w", err)
		}
		doc, err := client.DecodeDocument(body)
		if err != nil {
			return source{}, fmt.Errorf("%s: %w", input, err)
		}
		return source{doc: doc}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return source{}, err
	}
	c, err := client.NewCWAClient(cfg.CWAAPIKey, cfg.CWAAPIURL, client.Options{
		Dataset:            cfg.Dataset,
		Timeout:            cfg.CWAAPITimeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return source{}, err
	}
	doc, err := c.GetForecast(ctx)
	if err != nil {
		return source{}, fmt.Errorf("fetch %s (%s): %w", cfg.Dataset, client.CategorizeError(err), err)
	}
	return source{doc: doc, cfg: cfg}, nil
}

func (s source) zone() *time.Location {
	if s.cfg != nil {
		return s.cfg.Zone()
	}
	return forecast.TaipeiZone
}

func (s source) promptOptions(opts options) forecast.PromptOptions {
	p := forecast.PromptOptions{Language: opts.lang, Hours: opts.hours}
	if s.cfg != nil {
		if p.Language == "" {
			p.Language = s.cfg.Language
		}
		if p.Hours == 0 {
			p.Hours = s.cfg.PromptHours
		}
	}
	return p
}

func cmdLocations(w io.Writer, doc models.ForecastDocument, opts options) error {
	names := forecast.LocationNames(doc.Locations)
	if opts.asJSON {
		return writeJSON(w, names)
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}

func cmdDigest(w, stderr io.Writer, cmd string, src source, opts options) error {
	runOpts := forecast.Options{Zone: src.zone(), PromptOptions: src.promptOptions(opts)}
	switch cmd {
	case "summary":
		runOpts.Summary = true
	case "series":
		runOpts.Series = true
	case "prompt":
		runOpts.Prompt = true
	}

	res, err := forecast.Run(src.doc, opts.location, runOpts)
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(w, res)
	}
	printWarnings(stderr, res.Warnings)

	switch cmd {
	case "summary":
		for _, line := range res.Summary.Lines() {
			fmt.Fprintln(w, line)
		}
	case "series":
		for _, line := range models.SeriesLines(res.Series) {
			fmt.Fprintln(w, line)
		}
	case "prompt":
		fmt.Fprint(w, res.Prompt)
	}
	return nil
}

func cmdNarrate(ctx context.Context, w, stderr io.Writer, src source, opts options) error {
	cfg := llm.Config{Provider: opts.provider, Model: opts.model}
	if src.cfg != nil && src.cfg.NarratorProvider != llm.ProviderNone && opts.provider == "" {
		cfg = llm.Config{
			Provider:  src.cfg.NarratorProvider,
			APIKey:    src.cfg.NarratorAPIKey,
			Model:     src.cfg.NarratorModel,
			MaxTokens: src.cfg.NarratorMaxTokens,
			Timeout:   src.cfg.NarratorTimeout,
		}
	}
	if cfg.APIKey == "" {
		switch strings.ToLower(cfg.Provider) {
		case llm.ProviderAnthropic:
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case llm.ProviderOpenAI:
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	narrator, err := llm.New(cfg)
	if err != nil {
		return err
	}
	if narrator == nil {
		return errors.New("narrate needs --provider anthropic or openai")
	}

	res, err := forecast.Run(src.doc, opts.location, forecast.Options{
		Prompt:        true,
		Zone:          src.zone(),
		PromptOptions: src.promptOptions(opts),
	})
	if err != nil {
		return err
	}
	printWarnings(stderr, res.Warnings)
	n, err := narrator.Narrate(ctx, res.Prompt)
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(w, n)
	}
	fmt.Fprintln(w, n.Text)
	return nil
}

// printWarnings reports non-fatal pipeline conditions. JSON output carries them in the body.
func printWarnings(stderr io.Writer, warnings []forecast.Warning) {
	for _, wn := range warnings {
		fmt.Fprintf(stderr, "digest: warning: %s\n", wn.Message)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
