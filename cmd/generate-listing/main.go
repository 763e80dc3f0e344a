// generate-listing runs the pipeline once on local image files and prints the
// outcome as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/raine/listing-pipeline/config"
	"github.com/raine/listing-pipeline/internal/app"
	"github.com/raine/listing-pipeline/internal/observability"
	"github.com/raine/listing-pipeline/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var images []string
	flag.Func("image", "Image file (repeatable)", func(s string) error {
		images = append(images, s)
		return nil
	})
	hint := flag.String("hint", "", "Seller's hint about the product")
	lang := flag.String("lang", "uk", "Listing language")
	currency := flag.String("currency", pipeline.DefaultCurrency, "Price currency")
	keywords := flag.String("keywords", "", "Comma-separated extra keywords")
	rotate := flag.Float64("rotate", 0, "Rotate photos counter-clockwise, in degrees")
	publish := flag.Bool("publish", false, "Publish the draft if it validates")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()
	images = append(images, flag.Args()...)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if len(images) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] -image <path> [-image <path>...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	config.LoadEnvFile()
	if missing := config.CheckRequired(); len(missing) > 0 {
		if !config.IsInteractiveTerminal() || !config.RunSetupWizard(false) {
			config.FatalWithWait("missing required config: %s", strings.Join(missing, ", "))
		}
	}
	cfg, err := config.Load()
	if err != nil {
		config.FatalWithWait("invalid config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if cfg.TraceStdout {
		shutdownTracing, err := observability.InitTracing(os.Stderr)
		if err != nil {
			config.FatalWithWait("failed to initialize tracing: %v", err)
		}
		defer shutdownTracing(context.Background())
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		config.FatalWithWait("%v", err)
	}
	defer a.Close()

	req := pipeline.Request{
		Hint:     *hint,
		Language: *lang,
		Currency: *currency,
		Keywords: splitKeywords(*keywords),
		Photo:    a.PhotoOptions(),
		Publish:  *publish,
	}
	req.Photo.Rotation = *rotate
	for _, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			config.FatalWithWait("failed to read image: %v", err)
		}
		req.Images = append(req.Images, data)
	}

	outcome := a.Orchestrator.Run(ctx, req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch outcome.Status {
	case pipeline.StatusCompleted, pipeline.StatusCompletedWithGap, pipeline.StatusPublished:
	default:
		os.Exit(2)
	}
}

func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
