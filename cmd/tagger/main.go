// Command tagger runs the Tagger stage: it consumes metadata requests for
// positive terminal matches and assembles the durable record the Exporter
// writes out — crunch digest, owner, last-modified time, MIME type, and a
// presentation URL.
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
	fs := flag.NewFlagSet("tagger", flag.ExitOnError)
	rtFlags := runtime.RegisterFlags(fs)

	var metadataRequests, metadata, problems string
	fs.StringVar(&metadataRequests, "metadata-requests", "", "metadata-request queue name (default from configuration)")
	fs.StringVar(&metadata, "metadata", "", "metadata queue name (default from configuration)")
	fs.StringVar(&problems, "problems", "", "problem queue name (default from configuration)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("tagger: parsing flags: %v", err)
	}

	ctx := context.Background()
	boot, err := runtime.BringUp(ctx, "tagger", rtFlags)
	if err != nil {
		log.Fatalf("tagger: %v", err)
	}
	defer boot.Shutdown(ctx)

	queues := boot.Config.Queues
	if metadataRequests != "" {
		queues.MetadataRequests = metadataRequests
	}
	if metadata != "" {
		queues.Metadata = metadata
	}
	if problems != "" {
		queues.Problems = problems
	}

	tagger, err := pipeline.NewTagger(queues)
	if err != nil {
		log.Fatalf("tagger: %v", err)
	}
	tagger.Logger = boot.Logger
	tagger.Prefetch = boot.Config.Prefetch
	tagger.Metrics = boot.Observability

	if err := runtime.Run("tagger", tagger, boot.Bus); err != nil {
		log.Fatalf("tagger: %v", err)
	}
}
