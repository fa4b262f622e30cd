// Command exporter runs the Exporter stage: it drains the matches,
// metadata, problems, and status queues and persists each terminal event
// to the SQL database named by the engine's configuration.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	"github.com/AsgerHL/Bachelor-POC/cmd/internal/runtime"
	"github.com/AsgerHL/Bachelor-POC/pkg/export/sqlsink"
	"github.com/AsgerHL/Bachelor-POC/pkg/pipeline"
)

func main() {
	fs := flag.NewFlagSet("exporter", flag.ExitOnError)
	rtFlags := runtime.RegisterFlags(fs)

	var matches, metadata, problems, status string
	fs.StringVar(&matches, "matches", "", "matches queue name (default from configuration)")
	fs.StringVar(&metadata, "metadata", "", "metadata queue name (default from configuration)")
	fs.StringVar(&problems, "problems", "", "problem queue name (default from configuration)")
	fs.StringVar(&status, "status", "", "status queue name (default from configuration)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("exporter: parsing flags: %v", err)
	}

	ctx := context.Background()
	boot, err := runtime.BringUp(ctx, "exporter", rtFlags)
	if err != nil {
		log.Fatalf("exporter: %v", err)
	}
	defer boot.Shutdown(ctx)

	queues := boot.Config.Queues
	if matches != "" {
		queues.Matches = matches
	}
	if metadata != "" {
		queues.Metadata = metadata
	}
	if problems != "" {
		queues.Problems = problems
	}
	if status != "" {
		queues.Status = status
	}

	driver := sqlsink.SQLite
	if boot.Config.SQLDriver == string(sqlsink.Postgres) {
		driver = sqlsink.Postgres
	}
	db, err := sql.Open(boot.Config.SQLDriver, boot.Config.SQLDSN)
	if err != nil {
		log.Fatalf("exporter: opening %s database: %v", boot.Config.SQLDriver, err)
	}
	defer db.Close()

	sink, err := sqlsink.New(db, driver)
	if err != nil {
		log.Fatalf("exporter: %v", err)
	}

	exporter, err := pipeline.NewExporter(queues, sink)
	if err != nil {
		log.Fatalf("exporter: %v", err)
	}
	exporter.Logger = boot.Logger
	exporter.Prefetch = boot.Config.Prefetch
	exporter.Metrics = boot.Observability

	if err := runtime.Run("exporter", exporter, boot.Bus); err != nil {
		log.Fatalf("exporter: %v", err)
	}
}
