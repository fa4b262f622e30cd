// Command matcher runs the Matcher stage: it applies the current rule
// head's Match to the conversion value a non-terminal message carries,
// then follows the resulting residue onward — another conversion request,
// a terminal match, a metadata request, or a problem.
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
	fs := flag.NewFlagSet("matcher", flag.ExitOnError)
	rtFlags := runtime.RegisterFlags(fs)

	var matches, conversions, metadataRequests, problems string
	fs.StringVar(&matches, "matches", "", "matches queue name (default from configuration)")
	fs.StringVar(&conversions, "conversions", "", "conversion-request queue name (default from configuration)")
	fs.StringVar(&metadataRequests, "metadata-requests", "", "metadata-request queue name (default from configuration)")
	fs.StringVar(&problems, "problems", "", "problem queue name (default from configuration)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("matcher: parsing flags: %v", err)
	}

	ctx := context.Background()
	boot, err := runtime.BringUp(ctx, "matcher", rtFlags)
	if err != nil {
		log.Fatalf("matcher: %v", err)
	}
	defer boot.Shutdown(ctx)

	queues := boot.Config.Queues
	if matches != "" {
		queues.Matches = matches
	}
	if conversions != "" {
		queues.Conversions = conversions
	}
	if metadataRequests != "" {
		queues.MetadataRequests = metadataRequests
	}
	if problems != "" {
		queues.Problems = problems
	}

	matcher, err := pipeline.NewMatcher(queues)
	if err != nil {
		log.Fatalf("matcher: %v", err)
	}
	matcher.Logger = boot.Logger
	matcher.Prefetch = boot.Config.Prefetch
	matcher.Metrics = boot.Observability

	if err := runtime.Run("matcher", matcher, boot.Bus); err != nil {
		log.Fatalf("matcher: %v", err)
	}
}
