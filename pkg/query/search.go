package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
)

// SearchInput is one retrieval-only search. DomainIDs empty means every
// domain the caller may read; naming a domain the caller cannot read is an
// error rather than a silent skip.
type SearchInput struct {
	Claims    *auth.Claims
	OrgID     uuid.UUID
	DomainIDs []uuid.UUID
	Text      string
	Mode      types.SearchMode
	Limit     int
	MinScore  float64
}

// Search retrieves scored chunks without synthesis. Results from multiple
// domains are merged best-first and capped at Limit.
func (p *Pipeline) Search(ctx context.Context, in SearchInput) ([]types.RetrievalResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("empty query: %w", errdefs.ErrBadRequest)
	}
	if n := utf8.RuneCountInString(text); n > maxQueryChars {
		return nil, fmt.Errorf("query is %d characters, limit is %d: %w", n, maxQueryChars, errdefs.ErrBadRequest)
	}

	domainIDs, err := p.searchScope(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(domainIDs) == 0 {
		return nil, fmt.Errorf("no readable domains to search: %w", errdefs.ErrPermissionDenied)
	}

	floor := in.MinScore
	if floor <= 0 {
		floor = p.cfg.MinConfidence
	}
	mode := in.Mode
	if mode == "" {
		mode = types.SearchVector
	}

	var merged []types.RetrievalResult
	for _, domainID := range domainIDs {
		ret, err := p.retriever.Retrieve(ctx, in.OrgID, domainID, text, floor, mode)
		if err != nil {
			return nil, err
		}
		merged = append(merged, ret.Results...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	limit := in.Limit
	if limit <= 0 || limit > p.cfg.KRetrieve {
		limit = p.cfg.KRetrieve
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// searchScope resolves the domains a search runs over. Explicitly named
// domains are authorized one by one; with none named, the caller's whole
// readable scope is used.
func (p *Pipeline) searchScope(ctx context.Context, in SearchInput) ([]uuid.UUID, error) {
	if len(in.DomainIDs) > 0 {
		out := make([]uuid.UUID, 0, len(in.DomainIDs))
		for _, id := range in.DomainIDs {
			domain, err := p.store.GetDomain(ctx, in.OrgID, id)
			if err != nil {
				return nil, err
			}
			if err := auth.RequireDomain(in.Claims, auth.PermChatRead, domain); err != nil {
				return nil, err
			}
			out = append(out, domain.ID)
		}
		return out, nil
	}

	domains, err := p.store.ListDomains(ctx, in.OrgID)
	if err != nil {
		return nil, err
	}
	orgID, allowed := auth.Scope(in.Claims, domains)
	if orgID != in.OrgID {
		return nil, fmt.Errorf("organization %s: %w", in.OrgID, errdefs.ErrTenantMismatch)
	}
	return allowed, nil
}
