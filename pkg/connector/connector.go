package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/ingest"
	"github.com/tomehq/tome/pkg/scraper"
	"github.com/tomehq/tome/pkg/types"
)

// Capability names one operation a connector variant supports. The API
// advertises these per type so clients can show the right actions instead
// of probing.
type Capability string

const (
	CapTest     Capability = "test"     // verify the config against the remote
	CapPreview  Capability = "preview"  // list what a sync would pull
	CapSync     Capability = "sync"     // run one ingest cycle
	CapDiscover Capability = "discover" // enumerate URLs without fetching bodies
	CapScrape   Capability = "scrape"   // fetch arbitrary single pages
)

// Connector is one source variant. Implementations are stateless across
// runs: per-run state arrives through the config map and the SyncContext,
// so a single registered instance serves every connector row of its type.
//
// Config maps handed to a variant are already opened (credentials
// decrypted) and validated at the write boundary; variants decode them
// leniently so rows written by newer builds still load.
type Connector interface {
	Type() types.ConnectorType
	Capabilities() []Capability
	Test(ctx context.Context, cfg map[string]any) error
	Preview(ctx context.Context, cfg map[string]any) (*Preview, error)
	Sync(ctx context.Context, sc *SyncContext) error
}

// Preview reports what a sync would pull without writing anything.
type Preview struct {
	Items []PreviewItem `json:"items"`
	Total int           `json:"total"`
	Notes string        `json:"notes,omitempty"`
}

// PreviewItem is one unit of remote content a sync would consider.
type PreviewItem struct {
	Title     string     `json:"title"`
	URL       string     `json:"url,omitempty"`
	Kind      string     `json:"kind"` // page | issue | file
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Ingestor is the slice of the ingestion service synced content feeds.
type Ingestor interface {
	IngestWeb(ctx context.Context, page ingest.WebPage) (*types.Document, bool, error)
}

// Crawler is the slice of the scrape engine the web variant drives.
type Crawler interface {
	Crawl(ctx context.Context, conn *types.Connector, opts scraper.Options) (types.CrawlStats, error)
	DiscoverURLs(ctx context.Context, conn *types.Connector, opts scraper.Options) ([]scraper.DiscoveredURL, error)
	Preview(ctx context.Context, pageURL string, opts scraper.Options) (*scraper.PagePreview, error)
}

// HasCapability reports whether the variant advertises cap.
func HasCapability(c Connector, cap Capability) bool {
	for _, have := range c.Capabilities() {
		if have == cap {
			return true
		}
	}
	return false
}

// Registry maps connector types to their registered variants.
type Registry struct {
	mu       sync.RWMutex
	variants map[types.ConnectorType]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[types.ConnectorType]Connector)}
}

// Register adds a variant, replacing any previous registration for its
// type.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[c.Type()] = c
}

// Get returns the variant for typ.
func (r *Registry) Get(typ types.ConnectorType) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.variants[typ]
	if !ok {
		return nil, fmt.Errorf("unknown connector type %q: %w", typ, errdefs.ErrBadRequest)
	}
	return c, nil
}

// Types lists the registered connector types sorted by name.
func (r *Registry) Types() []types.ConnectorType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ConnectorType, 0, len(r.variants))
	for typ := range r.variants {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SyncContext carries one sync run into a variant: the connector row, its
// opened config, and the ingestion sink. The counters feed the SyncJob
// record; they are safe for concurrent use.
type SyncContext struct {
	Connector *types.Connector
	Config    map[string]any

	ingest Ingestor
	logger zerolog.Logger

	mu      sync.Mutex
	pages   int
	created int
}

// AddPages records n items examined by the run.
func (sc *SyncContext) AddPages(n int) {
	sc.mu.Lock()
	sc.pages += n
	sc.mu.Unlock()
}

// AddDocuments records n documents the run created.
func (sc *SyncContext) AddDocuments(n int) {
	sc.mu.Lock()
	sc.created += n
	sc.mu.Unlock()
}

func (sc *SyncContext) counts() (pages, created int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.pages, sc.created
}

// IngestPage feeds one unit of remote content into ingestion as markdown
// and accounts for it. Content already present in the domain under the
// same hash counts as processed, not created. A single bad item never
// fails the run: errors other than cancellation are logged and the item
// is counted as processed anyway.
func (sc *SyncContext) IngestPage(ctx context.Context, pageURL, title, markdown string) error {
	_, created, err := sc.ingest.IngestWeb(ctx, ingest.WebPage{
		OrgID:       sc.Connector.OrgID,
		DomainID:    sc.Connector.DomainID,
		ConnectorID: sc.Connector.ID,
		URL:         pageURL,
		Title:       title,
		Markdown:    markdown,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		sc.logger.Warn().Err(err).Str("url", pageURL).Msg("Failed to ingest synced item")
		sc.AddPages(1)
		return nil
	}
	sc.AddPages(1)
	if created {
		sc.AddDocuments(1)
	}
	return nil
}
