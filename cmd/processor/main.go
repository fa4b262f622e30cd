// Command processor runs the Processor stage: it consumes conversion
// requests, materialises the OutputType the rule residue currently needs,
// and forwards the value onward (or derives and re-emits a scan spec for a
// container the rule's head can never match directly).
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/AsgerHL/Bachelor-POC/cmd/internal/runtime"
	"github.com/AsgerHL/Bachelor-POC/pkg/pipeline"
)

func main() {
	fs := flag.NewFlagSet("processor", flag.ExitOnError)
	rtFlags := runtime.RegisterFlags(fs)

	var conversions, matches, problems string
	fs.StringVar(&conversions, "conversions", "", "conversion-request queue name (default from configuration)")
	fs.StringVar(&matches, "matches", "", "matches queue name (default from configuration)")
	fs.StringVar(&problems, "problems", "", "problem queue name (default from configuration)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("processor: parsing flags: %v", err)
	}

	ctx := context.Background()
	boot, err := runtime.BringUp(ctx, "processor", rtFlags)
	if err != nil {
		log.Fatalf("processor: %v", err)
	}
	defer boot.Shutdown(ctx)

	queues := boot.Config.Queues
	if conversions != "" {
		queues.Conversions = conversions
	}
	if matches != "" {
		queues.Matches = matches
	}
	if problems != "" {
		queues.Problems = problems
	}

	processor, err := pipeline.NewProcessor(queues)
	if err != nil {
		log.Fatalf("processor: %v", err)
	}
	processor.Logger = boot.Logger
	processor.Prefetch = boot.Config.Prefetch
	processor.Metrics = boot.Observability

	if err := runtime.Run("processor", processor, boot.Bus); err != nil {
		log.Fatalf("processor: %v", err)
	}
}
