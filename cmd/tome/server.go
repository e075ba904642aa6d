package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tomehq/tome/pkg/ai"
	"github.com/tomehq/tome/pkg/api"
	"github.com/tomehq/tome/pkg/audit"
	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/blob"
	"github.com/tomehq/tome/pkg/cache"
	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/connector"
	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/health"
	"github.com/tomehq/tome/pkg/ingest"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/query"
	"github.com/tomehq/tome/pkg/scraper"
	"github.com/tomehq/tome/pkg/security"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/pkg/vectorindex"
	"github.com/tomehq/tome/pkg/workflow"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Tome API server",
	Long: `Run the API server together with its background workers: the
ingestion pool, the connector sync scheduler, the index reconciler, and
the health monitor.

Configuration comes from the --config file, then from environment
variables; JWT_SECRET is the only setting without a default. Without
DATABASE_URL the relational store and the vector index run in memory,
which is fine for development; the object store and the LLM endpoints
are always external.`,
	RunE: runServer,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Create or update the postgres schema, including the pgvector
extension and the vector column sized to the configured embedding
dimension. The migration is idempotent; running it against an already
current database changes nothing.`,
	RunE: runMigrate,
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the first user, organization, and domain",
	Long: `Seed a fresh deployment: register the first user (who owns their
personal organization) and optionally create a starting knowledge
domain. Runs against the database directly, so it needs the same
configuration as 'tome server'.`,
	RunE: runBootstrap,
}

func init() {
	serverCmd.Flags().StringP("config", "c", "", "Path to config file (YAML)")
	migrateCmd.Flags().StringP("config", "c", "", "Path to config file (YAML)")

	bootstrapCmd.Flags().StringP("config", "c", "", "Path to config file (YAML)")
	bootstrapCmd.Flags().String("email", "", "Email address of the first user")
	bootstrapCmd.Flags().String("password", "", "Password of the first user")
	bootstrapCmd.Flags().String("domain", "", "Display name of an initial domain (optional)")
	_ = bootstrapCmd.MarkFlagRequired("email")
	_ = bootstrapCmd.MarkFlagRequired("password")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) {
	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: !cfg.Debug})
	metrics.SetVersion(Version)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeKind := "memory"
	if cfg.Database.URL != "" {
		storeKind = "postgres"
	}
	fmt.Println("Starting Tome server...")
	fmt.Printf("  Store: %s\n", storeKind)
	fmt.Printf("  Index: %s\n", cfg.Index.Backend)
	fmt.Printf("  API:   %s\n", cfg.API.Addr)
	fmt.Println()

	// Relational store.
	var st store.Store
	var pg *store.Postgres
	if cfg.Database.URL != "" {
		pg, err = store.NewPostgres(ctx, cfg.Database, cfg.Embedding.Dimension)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %v", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return fmt.Errorf("failed to migrate schema: %v", err)
		}
		st = pg
	} else {
		st = store.NewMemory()
	}
	defer st.Close()

	// Object store.
	blobs, err := blob.New(cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to create object store client: %v", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket %q: %v", cfg.Blob.Bucket, err)
	}

	// Redis is optional; without it the query and embedding caches are
	// simply absent and every request does the full work.
	var redis *cache.Cache
	var queryCache *cache.QueryCache
	if cfg.Redis.URL != "" {
		redis, err = cache.New(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to create cache client: %v", err)
		}
		defer redis.Close()
		queryCache = redis.NewQueryCache(cfg.Query.CacheTTL)
	}

	// Vector index. The pgvector backend shares the store's pool; the
	// memory backend restores from its last snapshot and replays chunks
	// written since.
	weights := vectorindex.Weights{Vector: cfg.Index.VectorWeight, Keyword: cfg.Index.KeywordWeight}
	var index vectorindex.Index
	if cfg.Index.Backend == "pgvector" && pg != nil {
		index = vectorindex.NewPgIndex(pg.Pool(), cfg.Embedding.Dimension, weights)
	} else {
		if cfg.Index.Backend == "pgvector" {
			mainLog := log.WithComponent("main")
			mainLog.Warn().
				Msg("pgvector index requires DATABASE_URL; falling back to the in-memory index")
		}
		var snapshots *vectorindex.SnapshotStore
		if cfg.Index.SnapshotPath != "" {
			snapshots, err = vectorindex.OpenSnapshots(cfg.Index.SnapshotPath)
			if err != nil {
				return fmt.Errorf("failed to open index snapshots: %v", err)
			}
		}
		mem := vectorindex.NewMemoryIndex(cfg.Embedding.Dimension, weights, snapshots)
		defer mem.Close()
		if err := mem.Restore(ctx, st); err != nil {
			return fmt.Errorf("failed to restore index: %v", err)
		}
		index = mem
	}

	// Shared plumbing.
	broker := events.NewBroker()
	recorder := audit.New(st, broker)

	authSvc, err := auth.NewService(st, recorder, cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %v", err)
	}

	var cipher *security.Cipher
	if cfg.Auth.CredentialKey != "" {
		cipher, err = security.NewCipherFromPassphrase(cfg.Auth.CredentialKey)
		if err != nil {
			return fmt.Errorf("failed to derive credential key: %v", err)
		}
	} else {
		mainLog := log.WithComponent("main")
		mainLog.Warn().
			Msg("CREDENTIAL_KEY not set; connector credentials will be stored in the clear")
	}

	embedder := ai.NewOpenAIEmbedder(cfg.Embedding)
	chatter := ai.NewOpenAIChat(cfg.LLM)

	// Domain services.
	ingestDeps := ingest.Deps{
		Store:     st,
		Blobs:     blobs,
		Index:     index,
		Embedder:  embedder,
		Audit:     recorder,
		Broker:    broker,
		Config:    cfg.Ingest,
		BatchSize: cfg.Embedding.BatchSize,
	}
	if redis != nil {
		ingestDeps.EmbedCache = redis.NewEmbedCache()
		ingestDeps.QueryCache = queryCache
	}
	ingestSvc := ingest.NewService(ingestDeps)

	engine := scraper.NewEngine(st, ingestSvc, broker, cfg.Scraper)

	connectors := connector.NewService(connector.Deps{
		Store:     st,
		Ingest:    ingestSvc,
		Crawler:   engine,
		Cipher:    cipher,
		Audit:     recorder,
		Broker:    broker,
		SyncLease: cfg.Workers.SyncLease,
	})

	pipeline := query.NewPipeline(query.Deps{
		Store:     st,
		Index:     index,
		Embedder:  embedder,
		Chatter:   chatter,
		Cache:     queryCache,
		Workflows: workflow.NewRouter(st),
		Audit:     recorder,
		Config:    cfg.Query,
	})

	// Background workers.
	pool := ingest.NewPool(st, cfg.Workers.Count)
	pool.Handle(types.JobIngestDocument, ingestSvc.IngestHandler())
	pool.Handle(types.JobReembedChunks, ingestSvc.ReembedHandler())
	pool.Handle(types.JobConnectorSync, ingest.Handler{
		Run: func(ctx context.Context, job *types.Job) error {
			var payload types.SyncPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("failed to decode sync payload: %w", err)
			}
			return connectors.RunSync(ctx, job.OrgID, payload)
		},
	})

	reconciler := vectorindex.NewReconciler(index, st, st, cfg.Index.ReconcileInterval)
	scheduler := connector.NewScheduler(connectors, st, cfg.Workers.SyncScanInterval, cfg.Workers.SyncLease)

	// Health checks feed /health and /ready. In-memory components have
	// nothing to probe but readiness still requires the registration.
	alwaysUp := health.PingerFunc(func(context.Context) error { return nil })
	monitor := health.NewMonitor()
	if pg != nil {
		monitor.RegisterPinger("database", pg)
	} else {
		monitor.RegisterPinger("database", alwaysUp)
	}
	if redis != nil {
		monitor.RegisterPinger("cache", redis)
	} else {
		monitor.RegisterPinger("cache", alwaysUp)
	}
	monitor.RegisterPinger("object_store", blobs)
	if cfg.Index.Backend == "pgvector" && pg != nil {
		monitor.RegisterPinger("index", pg)
	} else {
		monitor.RegisterPinger("index", alwaysUp)
	}

	apiServer := api.NewServer(api.Deps{
		Auth:           authSvc,
		Ingest:         ingestSvc,
		Pipeline:       pipeline,
		Connectors:     connectors,
		Scraper:        engine,
		Store:          st,
		Blob:           blobs,
		Config:         cfg.API,
		UploadMaxBytes: cfg.Ingest.UploadMaxBytes,
	})

	// Start everything. The monitor primes synchronously so the first
	// readiness probe already reflects real dependency state.
	broker.Start()
	monitor.CheckNow(ctx)
	monitor.Start()
	fmt.Println("✓ Health monitor started")

	go func() {
		if err := pool.Run(ctx); err != nil {
			mainLog := log.WithComponent("main")
			mainLog.Error().Err(err).Msg("Worker pool stopped")
		}
	}()
	fmt.Printf("✓ Worker pool started (%d workers)\n", cfg.Workers.Count)

	go reconciler.Run(ctx)
	fmt.Println("✓ Index reconciler started")

	scheduler.Start()
	fmt.Println("✓ Sync scheduler started")

	go expireSessionsLoop(ctx, authSvc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()
	fmt.Printf("✓ API listening on %s\n", cfg.API.Addr)
	fmt.Println()
	fmt.Println("Server is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server error: %v", err)
		}
		return nil
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	}

	// Drain HTTP first so in-flight requests finish against live workers,
	// then stop the background loops.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		mainLog := log.WithComponent("main")
		mainLog.Error().Err(err).Msg("HTTP shutdown failed")
	}
	cancel()
	scheduler.Stop()
	monitor.Stop()
	broker.Stop()

	fmt.Println("✓ Server stopped")
	return nil
}

// expireSessionsLoop sweeps auth sessions past their refresh expiry so the
// sessions table does not grow without bound.
func expireSessionsLoop(ctx context.Context, svc *auth.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ExpireSessions(ctx); err != nil {
				mainLog := log.WithComponent("main")
				mainLog.Error().Err(err).Msg("Session sweep failed")
			}
		}
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg)

	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := store.NewPostgres(ctx, cfg.Database, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer pg.Close()

	fmt.Printf("Migrating schema (embedding dimension %d)...\n", cfg.Embedding.Dimension)
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %v", err)
	}
	fmt.Println("✓ Schema is up to date")
	return nil
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg)

	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	domainName, _ := cmd.Flags().GetString("domain")

	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is not configured; bootstrap against the memory store would not outlive this process")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pg, err := store.NewPostgres(ctx, cfg.Database, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %v", err)
	}

	authSvc, err := auth.NewService(pg, audit.New(pg, nil), cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %v", err)
	}

	user, org, err := authSvc.Register(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to register user: %v", err)
	}
	fmt.Printf("✓ Created user %s\n", user.Email)
	fmt.Printf("✓ Created organization %s (%s)\n", org.Name, org.ID)

	if domainName != "" {
		domain := &types.Domain{
			ID:          uuid.New(),
			OrgID:       org.ID,
			Name:        auth.Slugify(domainName),
			DisplayName: domainName,
			Template:    "custom",
			AccessMode:  types.AccessPublic,
		}
		if err := pg.CreateDomain(ctx, domain); err != nil {
			return fmt.Errorf("failed to create domain: %v", err)
		}
		fmt.Printf("✓ Created domain %s (%s)\n", domain.Name, domain.ID)
	}

	fmt.Println()
	fmt.Printf("Log in with: tome login SERVER --email %s\n", email)
	return nil
}
