// Package framework stands up a complete in-process Tome environment for
// end-to-end tests: real store, index, ingestion workers, and HTTP API, with
// the embedding and chat models replaced by deterministic stubs. By default
// everything runs in memory; setting TOME_E2E_DATABASE_URL moves the store
// and index onto a disposable Postgres instance without changing any test.
package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/tomehq/tome/pkg/api"
	"github.com/tomehq/tome/pkg/audit"
	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/connector"
	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/ingest"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/query"
	"github.com/tomehq/tome/pkg/scraper"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/pkg/vectorindex"
	"github.com/tomehq/tome/pkg/workflow"
)

// Env is one self-contained Tome deployment under test.
type Env struct {
	Config *EnvConfig

	Store      store.Store
	Index      vectorindex.Index
	Embedder   *StubEmbedder
	Chatter    *StubChatter
	Objects    *StubObjects
	Broker     *events.Broker
	Audit      *audit.Recorder
	Auth       *auth.Service
	Ingest     *ingest.Service
	Scraper    *scraper.Engine
	Connectors *connector.Service
	Pipeline   *query.Pipeline
	API        *api.Server

	pg       *store.Postgres
	pool     *ingest.Pool
	srv      *httptest.Server
	cancel   context.CancelFunc
	poolDone chan struct{}
}

// NewEnv assembles the environment without starting anything. Call Start
// before issuing requests and Stop when done.
func NewEnv(cfg *EnvConfig) (*Env, error) {
	if cfg == nil {
		cfg = DefaultEnvConfig()
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})

	e := &Env{
		Config:   cfg,
		Embedder: NewStubEmbedder(cfg.Dimension),
		Chatter:  NewStubChatter(cfg.ChatReply),
		Objects:  NewStubObjects(),
		Broker:   events.NewBroker(),
	}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		pg, err := store.NewPostgres(ctx, config.DatabaseConfig{URL: cfg.DatabaseURL}, cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("failed to connect test database: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to migrate test database: %w", err)
		}
		e.pg = pg
		e.Store = pg
		e.Index = vectorindex.NewPgIndex(pg.Pool(), cfg.Dimension, vectorindex.DefaultWeights)
	} else {
		e.Store = store.NewMemory()
		e.Index = vectorindex.NewMemoryIndex(cfg.Dimension, vectorindex.DefaultWeights, nil)
	}

	e.Audit = audit.New(e.Store, e.Broker)

	authSvc, err := auth.NewService(e.Store, e.Audit, config.AuthConfig{
		JWTSecret:      "e2e-test-secret",
		AccessTokenTTL: time.Hour,
	})
	if err != nil {
		e.closeStore()
		return nil, err
	}
	e.Auth = authSvc

	e.Ingest = ingest.NewService(ingest.Deps{
		Store:    e.Store,
		Blobs:    e.Objects,
		Index:    e.Index,
		Embedder: e.Embedder,
		Audit:    e.Audit,
		Broker:   e.Broker,
		Config: config.IngestConfig{
			UploadMaxBytes:     1 << 20,
			ChunkTargetTokens:  64,
			ChunkOverlapTokens: 8,
			MaxImagesPerDoc:    4,
		},
		BatchSize: 4,
	})

	scraperCfg := config.Default().Scraper
	scraperCfg.BaseDelay = cfg.ScrapeDelay
	scraperCfg.RobotsCacheTTL = time.Second
	e.Scraper = scraper.NewEngine(e.Store, e.Ingest, e.Broker, scraperCfg)

	e.Connectors = connector.NewService(connector.Deps{
		Store:     e.Store,
		Ingest:    e.Ingest,
		Crawler:   e.Scraper,
		Audit:     e.Audit,
		Broker:    e.Broker,
		SyncLease: time.Minute,
	})

	e.Pipeline = query.NewPipeline(query.Deps{
		Store:     e.Store,
		Index:     e.Index,
		Embedder:  e.Embedder,
		Chatter:   e.Chatter,
		Workflows: workflow.NewRouter(e.Store),
		Audit:     e.Audit,
		Config:    config.Default().Query,
	})

	e.pool = ingest.NewPool(e.Store, cfg.Workers)
	e.pool.Handle(types.JobIngestDocument, e.Ingest.IngestHandler())
	e.pool.Handle(types.JobReembedChunks, e.Ingest.ReembedHandler())
	e.pool.Handle(types.JobConnectorSync, ingest.Handler{
		Run: func(ctx context.Context, job *types.Job) error {
			var payload types.SyncPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("failed to decode sync payload: %w", err)
			}
			return e.Connectors.RunSync(ctx, job.OrgID, payload)
		},
	})

	e.API = api.NewServer(api.Deps{
		Auth:       e.Auth,
		Ingest:     e.Ingest,
		Pipeline:   e.Pipeline,
		Connectors: e.Connectors,
		Scraper:    e.Scraper,
		Store:      e.Store,
		Config: config.APIConfig{
			CORSOrigins:    []string{"*"},
			RequestTimeout: time.Minute,
		},
		UploadMaxBytes: 1 << 20,
	})
	return e, nil
}

// Start brings up the event broker, the background workers, and an HTTP
// listener on a loopback port.
func (e *Env) Start() error {
	if e.srv != nil {
		return fmt.Errorf("environment already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.poolDone = make(chan struct{})

	e.Broker.Start()
	go func() {
		defer close(e.poolDone)
		_ = e.pool.Run(ctx)
	}()

	e.srv = httptest.NewServer(e.API.Handler())
	return nil
}

// Stop tears the environment down: the listener first so no new work
// arrives, then the workers, then the broker.
func (e *Env) Stop() {
	if e.srv != nil {
		e.srv.Close()
		e.srv = nil
	}
	if e.cancel != nil {
		e.cancel()
		select {
		case <-e.poolDone:
		case <-time.After(10 * time.Second):
		}
		e.cancel = nil
	}
	e.Broker.Stop()
	e.closeStore()
}

// BaseURL is the environment's API address.
func (e *Env) BaseURL() string {
	if e.srv == nil {
		return ""
	}
	return e.srv.URL
}

func (e *Env) closeStore() {
	if e.pg != nil {
		e.pg.Close()
		e.pg = nil
	}
	if mem, ok := e.Index.(*vectorindex.MemoryIndex); ok {
		mem.Close()
	}
}
