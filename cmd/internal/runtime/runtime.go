// Package runtime is the bootstrap code shared by the pipeline's stage
// binaries (cmd/explorer, cmd/processor, cmd/matcher, cmd/tagger,
// cmd/exporter): loading layered configuration, building the bus backend
// it names, wiring observability, and running a stage until a shutdown
// signal arrives. It is the one place in this module allowed to use
// log.Printf/fmt.Println instead of structured logging, since nothing has
// started yet for slog to attach "component" context to.
package runtime

import (
	"context"
	"database/sql"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/AsgerHL/Bachelor-POC/pkg/credentials"
	"github.com/AsgerHL/Bachelor-POC/pkg/engineconfig"
	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/observability"
	"github.com/AsgerHL/Bachelor-POC/pkg/queue"

	_ "github.com/AsgerHL/Bachelor-POC/pkg/rule/cel"
	_ "github.com/AsgerHL/Bachelor-POC/pkg/rule/leaf"
)

// credentialGracePeriod is how far ahead of a cached EWS token's expiry the
// credential token cache refreshes it proactively, rather than waiting for
// the mail source's first 401.
const credentialGracePeriod = 5 * time.Minute

// Flags are the config-path command-line flags every stage binary exposes,
// in addition to whatever queue-name overrides it adds for itself.
type Flags struct {
	SystemConfig string
	UserConfig   string
}

// RegisterFlags adds the shared -system-config/-user-config flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.SystemConfig, "system-config", os.Getenv("OS2DS_ENGINE_SYSTEM_CONFIG_PATH"), "path to the system configuration layer")
	fs.StringVar(&f.UserConfig, "user-config", os.Getenv("OS2DS_ENGINE_USER_CONFIG_PATH"), "path to the user configuration layer")
	return f
}

// Bootstrap is the wiring a stage binary needs before it can run: the
// resolved configuration, a bus to consume/publish on, and an
// observability provider to shut down on exit.
type Bootstrap struct {
	Config        *engineconfig.Config
	Bus           queue.Bus
	Observability *observability.Provider
	Logger        *slog.Logger

	// credentialDB is the database connection opened for the credential
	// store, nil unless Config.CredentialEncryptionKey is set. Closed by
	// Shutdown.
	credentialDB *sql.DB
}

// Bring-up loads configuration, opens the configured bus backend
// (in-memory if RedisAddr is unset, Redis streams otherwise), starts
// observability, freezes the source-type registry, and returns a
// Bootstrap ready for a stage to run against. component names this
// binary for both the logger and the observability service name.
func BringUp(ctx context.Context, component string, flags *Flags) (*Bootstrap, error) {
	cfg, err := engineconfig.Load(flags.SystemConfig, flags.UserConfig)
	if err != nil {
		return nil, fmt.Errorf("runtime: loading configuration: %w", err)
	}

	var bus queue.Bus
	if cfg.RedisAddr == "" {
		bus = queue.NewMemoryBus()
	} else {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		bus = queue.NewRedisBus(client, component)
	}

	obsConfig := observability.DefaultConfig()
	obsConfig.ServiceName = "os2datascanner-" + component
	if cfg.OTLPEndpoint != "" {
		obsConfig.OTLPEndpoint = cfg.OTLPEndpoint
		obsConfig.Enabled = true
	} else {
		obsConfig.Enabled = false
	}
	provider, err := observability.New(ctx, obsConfig)
	if err != nil {
		return nil, fmt.Errorf("runtime: starting observability: %w", err)
	}

	model.Freeze()

	logger := slog.Default().With("component", component)

	boot := &Bootstrap{Config: cfg, Bus: bus, Observability: provider, Logger: logger}

	if cfg.CredentialEncryptionKey != "" {
		if err := boot.wireCredentials(cfg); err != nil {
			return nil, fmt.Errorf("runtime: wiring credential store: %w", err)
		}
	}

	return boot, nil
}

// wireCredentials opens a credential store on the engine's own
// SQLDriver/SQLDSN database and configures pkg/credentials' EWS token
// cache against it, so model.EWSTokenProvider can resolve and refresh
// mailbox bearer tokens instead of staying permanently nil.
func (b *Bootstrap) wireCredentials(cfg *engineconfig.Config) error {
	key, err := hex.DecodeString(cfg.CredentialEncryptionKey)
	if err != nil {
		return fmt.Errorf("decoding credential_encryption_key: %w", err)
	}

	db, err := sql.Open(cfg.SQLDriver, cfg.SQLDSN)
	if err != nil {
		return fmt.Errorf("opening %s database: %w", cfg.SQLDriver, err)
	}

	store, err := credentials.NewStore(db, key, credentials.WithEnvFallback(true))
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("building credential store: %w", err)
	}

	oauth := credentials.NewEWSOAuth("", "", "")
	credentials.Configure(store, oauth, credentials.RotationPolicy{
		GracePeriod: credentialGracePeriod,
		AutoRotate:  true,
	})

	b.credentialDB = db
	return nil
}

// Shutdown flushes the observability provider and closes the credential
// store's database connection, if one was opened. Stage binaries defer
// this right after BringUp succeeds.
func (b *Bootstrap) Shutdown(ctx context.Context) {
	if err := b.Observability.Shutdown(ctx); err != nil {
		log.Printf("runtime: observability shutdown: %v", err)
	}
	if b.credentialDB != nil {
		if err := b.credentialDB.Close(); err != nil {
			log.Printf("runtime: credential database close: %v", err)
		}
	}
}

// Run drives stage.Run(ctx, bus) until SIGINT/SIGTERM arrives, logging
// readiness before starting and the received signal before cancelling the
// stage's context. It returns the error stage.Run returned, if any, after
// the stage has had a chance to drain in-flight work.
func Run(component string, stage interface {
	Run(ctx context.Context, bus queue.Bus) error
}, bus queue.Bus) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("%s: received %s, stopping", component, sig)
		cancel()
	}()

	log.Printf("%s: ready", component)
	err := stage.Run(ctx, bus)
	log.Printf("%s: stopped", component)
	return err
}
