// Command explorer runs the Explorer stage: it consumes scan specifications,
// enumerates the handles their source contains, and emits a conversion
// request per handle (or a child scan spec, for a source that yields
// independent sources).
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/AsgerHL/Bachelor-POC/cmd/internal/runtime"
	"github.com/AsgerHL/Bachelor-POC/pkg/engineconfig"
	"github.com/AsgerHL/Bachelor-POC/pkg/pipeline"
)

func main() {
	fs := flag.NewFlagSet("explorer", flag.ExitOnError)
	rtFlags := runtime.RegisterFlags(fs)

	var sources, conversions, problems, status string
	fs.StringVar(&sources, "sources", "", "scan-spec queue name (default from configuration)")
	fs.StringVar(&conversions, "conversions", "", "conversion-request queue name (default from configuration)")
	fs.StringVar(&problems, "problems", "", "problem queue name (default from configuration)")
	fs.StringVar(&status, "status", "", "status queue name (default from configuration)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("explorer: parsing flags: %v", err)
	}

	ctx := context.Background()
	boot, err := runtime.BringUp(ctx, "explorer", rtFlags)
	if err != nil {
		log.Fatalf("explorer: %v", err)
	}
	defer boot.Shutdown(ctx)

	queues := boot.Config.Queues
	if sources != "" {
		queues.ScanSpecs = sources
	}
	if conversions != "" {
		queues.Conversions = conversions
	}
	if problems != "" {
		queues.Problems = problems
	}
	if status != "" {
		queues.Status = status
	}

	gate, err := engineconfig.NewCompatibilityGate(engineconfig.EngineVersion)
	if err != nil {
		log.Fatalf("explorer: building compatibility gate: %v", err)
	}

	explorer, err := pipeline.NewExplorer(queues)
	if err != nil {
		log.Fatalf("explorer: %v", err)
	}
	explorer.Logger = boot.Logger
	explorer.Prefetch = boot.Config.Prefetch
	explorer.Compatibility = gate
	explorer.Metrics = boot.Observability

	if err := runtime.Run("explorer", explorer, boot.Bus); err != nil {
		log.Fatalf("explorer: %v", err)
	}
}
