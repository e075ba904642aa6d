package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
)

// Memory implements Store with in-process maps. It backs unit tests and the
// single-binary demo mode; production runs on Postgres. Semantics mirror the
// Postgres implementation, including uniqueness rules and cascades.
type Memory struct {
	mu sync.RWMutex

	orgs       map[uuid.UUID]*types.Organization
	users      map[uuid.UUID]*types.User
	members    map[uuid.UUID]map[uuid.UUID]*types.OrgMember // orgID -> userID
	domains    map[uuid.UUID]*types.Domain
	documents  map[uuid.UUID]*types.Document
	chunks     map[uuid.UUID][]*types.Chunk // documentID -> ordered by Index
	sessions   map[uuid.UUID]*types.ChatSession
	messages   map[uuid.UUID][]*types.Message // sessionID -> ordered by Seq
	connectors map[uuid.UUID]*types.Connector
	syncJobs   map[uuid.UUID]*types.SyncJob
	pages      map[uuid.UUID]*types.CrawledPage
	pageKeys   map[string]uuid.UUID // connectorID|url -> page ID
	audits     []*types.AuditEvent
	classifs   []*types.Classification
	execs      []*types.RAGExecution
	issues     []*types.KnownIssue
	features   []*types.FeatureCandidate
	authSess   map[uuid.UUID]*types.AuthSession
	jobs       map[uuid.UUID]*types.Job
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orgs:       make(map[uuid.UUID]*types.Organization),
		users:      make(map[uuid.UUID]*types.User),
		members:    make(map[uuid.UUID]map[uuid.UUID]*types.OrgMember),
		domains:    make(map[uuid.UUID]*types.Domain),
		documents:  make(map[uuid.UUID]*types.Document),
		chunks:     make(map[uuid.UUID][]*types.Chunk),
		sessions:   make(map[uuid.UUID]*types.ChatSession),
		messages:   make(map[uuid.UUID][]*types.Message),
		connectors: make(map[uuid.UUID]*types.Connector),
		syncJobs:   make(map[uuid.UUID]*types.SyncJob),
		pages:      make(map[uuid.UUID]*types.CrawledPage),
		pageKeys:   make(map[string]uuid.UUID),
		authSess:   make(map[uuid.UUID]*types.AuthSession),
		jobs:       make(map[uuid.UUID]*types.Job),
	}
}

// Close implements Store.
func (m *Memory) Close() {}

// Organization operations

func (m *Memory) CreateOrganization(_ context.Context, org *types.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.orgs {
		if existing.Slug == org.Slug {
			return fmt.Errorf("organization slug %q taken: %w", org.Slug, errdefs.ErrConflict)
		}
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	org.UpdatedAt = org.CreatedAt
	cp := *org
	m.orgs[org.ID] = &cp
	m.members[org.ID] = make(map[uuid.UUID]*types.OrgMember)
	return nil
}

func (m *Memory) GetOrganization(_ context.Context, id uuid.UUID) (*types.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	org, ok := m.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *org
	return &cp, nil
}

func (m *Memory) GetOrganizationBySlug(_ context.Context, slug string) (*types.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, org := range m.orgs {
		if org.Slug == slug {
			cp := *org
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("organization %q: %w", slug, errdefs.ErrNotFound)
}

func (m *Memory) ListOrganizationsForUser(_ context.Context, userID uuid.UUID) ([]*types.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Organization
	for orgID, members := range m.members {
		if _, ok := members[userID]; ok {
			if org, ok := m.orgs[orgID]; ok {
				cp := *org
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *Memory) DeleteOrganization(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orgs[id]; !ok {
		return fmt.Errorf("organization %s: %w", id, errdefs.ErrNotFound)
	}
	delete(m.orgs, id)
	delete(m.members, id)
	for domainID, d := range m.domains {
		if d.OrgID == id {
			m.deleteDomainLocked(domainID)
		}
	}
	for sessID, s := range m.authSess {
		if s.OrgID == id {
			delete(m.authSess, sessID)
		}
	}
	return nil
}

// User operations

func (m *Memory) CreateUser(_ context.Context, user *types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(user.Email)
	for _, existing := range m.users {
		if strings.ToLower(existing.Email) == email {
			return fmt.Errorf("email %q taken: %w", user.Email, errdefs.ErrConflict)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = user.CreatedAt
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *user
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, user := range m.users {
		if strings.ToLower(user.Email) == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", email, errdefs.ErrNotFound)
}

func (m *Memory) UpdateUser(_ context.Context, user *types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; !ok {
		return fmt.Errorf("user %s: %w", user.ID, errdefs.ErrNotFound)
	}
	user.UpdatedAt = time.Now()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *Memory) AddMember(_ context.Context, member *types.OrgMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.members[member.OrgID]
	if !ok {
		return fmt.Errorf("organization %s: %w", member.OrgID, errdefs.ErrNotFound)
	}
	if _, ok := members[member.UserID]; ok {
		return fmt.Errorf("user already a member: %w", errdefs.ErrConflict)
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now()
	}
	// At most one active membership per user.
	if member.Active {
		for _, otherOrg := range m.members {
			if other, ok := otherOrg[member.UserID]; ok && other.Active {
				other.Active = false
			}
		}
	}
	cp := *member
	members[member.UserID] = &cp
	return nil
}

func (m *Memory) GetMember(_ context.Context, orgID, userID uuid.UUID) (*types.OrgMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if members, ok := m.members[orgID]; ok {
		if member, ok := members[userID]; ok {
			cp := *member
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("membership: %w", errdefs.ErrNotFound)
}

func (m *Memory) ListMembers(_ context.Context, orgID uuid.UUID) ([]*types.OrgMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.members[orgID]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", orgID, errdefs.ErrNotFound)
	}
	out := make([]*types.OrgMember, 0, len(members))
	for _, member := range members {
		cp := *member
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ActiveMembership(_ context.Context, userID uuid.UUID) (*types.OrgMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, members := range m.members {
		if member, ok := members[userID]; ok && member.Active {
			cp := *member
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no active membership: %w", errdefs.ErrNotFound)
}

// Domain operations

func (m *Memory) CreateDomain(_ context.Context, domain *types.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orgs[domain.OrgID]; !ok {
		return fmt.Errorf("organization %s: %w", domain.OrgID, errdefs.ErrNotFound)
	}
	for _, existing := range m.domains {
		if existing.OrgID == domain.OrgID && existing.Name == domain.Name {
			return fmt.Errorf("domain %q exists: %w", domain.Name, errdefs.ErrConflict)
		}
	}
	if domain.CreatedAt.IsZero() {
		domain.CreatedAt = time.Now()
	}
	domain.UpdatedAt = domain.CreatedAt
	cp := *domain
	m.domains[domain.ID] = &cp
	return nil
}

func (m *Memory) GetDomain(_ context.Context, orgID, id uuid.UUID) (*types.Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	domain, ok := m.domains[id]
	if !ok || domain.OrgID != orgID {
		return nil, fmt.Errorf("domain %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *domain
	return &cp, nil
}

func (m *Memory) GetDomainByName(_ context.Context, orgID uuid.UUID, name string) (*types.Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, domain := range m.domains {
		if domain.OrgID == orgID && domain.Name == name {
			cp := *domain
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("domain %q: %w", name, errdefs.ErrNotFound)
}

func (m *Memory) ListDomains(_ context.Context, orgID uuid.UUID) ([]*types.Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Domain
	for _, domain := range m.domains {
		if domain.OrgID == orgID {
			cp := *domain
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateDomain(_ context.Context, domain *types.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.domains[domain.ID]
	if !ok || existing.OrgID != domain.OrgID {
		return fmt.Errorf("domain %s: %w", domain.ID, errdefs.ErrNotFound)
	}
	domain.UpdatedAt = time.Now()
	cp := *domain
	m.domains[domain.ID] = &cp
	return nil
}

func (m *Memory) DeleteDomain(_ context.Context, orgID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	domain, ok := m.domains[id]
	if !ok || domain.OrgID != orgID {
		return fmt.Errorf("domain %s: %w", id, errdefs.ErrNotFound)
	}
	m.deleteDomainLocked(id)
	return nil
}

func (m *Memory) deleteDomainLocked(id uuid.UUID) {
	delete(m.domains, id)
	for docID, doc := range m.documents {
		if doc.DomainID == id {
			delete(m.documents, docID)
			delete(m.chunks, docID)
		}
	}
	for connID, conn := range m.connectors {
		if conn.DomainID == id {
			delete(m.connectors, connID)
		}
	}
	for sessID, sess := range m.sessions {
		if sess.DomainID == id {
			delete(m.sessions, sessID)
			delete(m.messages, sessID)
		}
	}
	for pageID, page := range m.pages {
		if page.DomainID == id {
			delete(m.pageKeys, pageKey(page.ConnectorID, page.URL))
			delete(m.pages, pageID)
		}
	}
}

// Document operations

func (m *Memory) CreateDocument(_ context.Context, doc *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.documents {
		if existing.OrgID == doc.OrgID && existing.DomainID == doc.DomainID && existing.ContentHash == doc.ContentHash {
			return fmt.Errorf("document with hash %s exists: %w", doc.ContentHash, errdefs.ErrConflict)
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.UpdatedAt = doc.CreatedAt
	cp := *doc
	m.documents[doc.ID] = &cp
	return nil
}

func (m *Memory) GetDocument(_ context.Context, orgID, id uuid.UUID) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok || doc.OrgID != orgID {
		return nil, fmt.Errorf("document %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}

func (m *Memory) GetDocumentAny(_ context.Context, id uuid.UUID) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}

func (m *Memory) GetDocumentByHash(_ context.Context, orgID, domainID uuid.UUID, hash string) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.documents {
		if doc.OrgID == orgID && doc.DomainID == domainID && doc.ContentHash == hash {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("document hash %s: %w", hash, errdefs.ErrNotFound)
}

func (m *Memory) ListDocuments(_ context.Context, orgID, domainID uuid.UUID, status types.DocumentStatus, limit, offset int) ([]*types.Document, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*types.Document
	for _, doc := range m.documents {
		if doc.OrgID != orgID {
			continue
		}
		if domainID != uuid.Nil && doc.DomainID != domainID {
			continue
		}
		if status != "" && doc.Status != status {
			continue
		}
		cp := *doc
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	matched = paginate(matched, limit, offset)
	return matched, total, nil
}

func (m *Memory) UpdateDocument(_ context.Context, doc *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.documents[doc.ID]
	if !ok || existing.OrgID != doc.OrgID {
		return fmt.Errorf("document %s: %w", doc.ID, errdefs.ErrNotFound)
	}
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = time.Now()
	cp := *doc
	m.documents[doc.ID] = &cp
	return nil
}

func (m *Memory) SetDocumentStatus(_ context.Context, id uuid.UUID, status types.DocumentStatus, chunkCount int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, errdefs.ErrNotFound)
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) DeleteDocument(_ context.Context, orgID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok || doc.OrgID != orgID {
		return fmt.Errorf("document %s: %w", id, errdefs.ErrNotFound)
	}
	delete(m.documents, id)
	delete(m.chunks, id)
	return nil
}

func (m *Memory) DocumentCounts(_ context.Context) (map[types.DocumentStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[types.DocumentStatus]int)
	for _, doc := range m.documents {
		counts[doc.Status]++
	}
	return counts, nil
}

// Chunk operations

func (m *Memory) UpsertChunks(_ context.Context, chunks []*types.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now()
		}
		cp := *chunk
		existing := m.chunks[chunk.DocumentID]
		replaced := false
		for i, old := range existing {
			if old.ID == chunk.ID {
				existing[i] = &cp
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, &cp)
		}
		sort.Slice(existing, func(i, j int) bool { return existing[i].Index < existing[j].Index })
		m.chunks[chunk.DocumentID] = existing
	}
	return nil
}

func (m *Memory) ReplaceDocumentChunks(_ context.Context, documentID uuid.UUID, chunks []*types.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chunks[documentID] = copyChunks(chunks)
	return nil
}

func (m *Memory) FinishDocumentIngest(_ context.Context, documentID uuid.UUID, chunks []*types.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, errdefs.ErrNotFound)
	}
	m.chunks[documentID] = copyChunks(chunks)
	doc.Status = types.DocumentReady
	doc.ChunkCount = len(chunks)
	doc.ErrorMessage = ""
	doc.UpdatedAt = time.Now()
	return nil
}

func copyChunks(chunks []*types.Chunk) []*types.Chunk {
	fresh := make([]*types.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now()
		}
		cp := *chunk
		fresh = append(fresh, &cp)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Index < fresh[j].Index })
	return fresh
}

func (m *Memory) ListChunks(_ context.Context, documentID uuid.UUID, limit, offset int) ([]*types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := m.chunks[documentID]
	out := make([]*types.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		cp := *chunk
		out = append(out, &cp)
	}
	return paginate(out, limit, offset), nil
}

func (m *Memory) ListChunksByDomain(_ context.Context, orgID, domainID uuid.UUID, createdAfter time.Time) ([]*types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Chunk
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.OrgID != orgID || chunk.DomainID != domainID {
				continue
			}
			if !createdAfter.IsZero() && !chunk.CreatedAt.After(createdAfter) {
				continue
			}
			cp := *chunk
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountChunks(_ context.Context, documentID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[documentID]), nil
}

func (m *Memory) CountChunksByDomain(_ context.Context, orgID, domainID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.OrgID == orgID && chunk.DomainID == domainID {
				count++
			}
		}
	}
	return count, nil
}

func (m *Memory) LookupEmbedding(_ context.Context, contentHash, modelID string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.ContentHash == contentHash && chunk.ModelID == modelID && len(chunk.Embedding) > 0 {
				out := make([]float32, len(chunk.Embedding))
				copy(out, chunk.Embedding)
				return out, true, nil
			}
		}
	}
	return nil, false, nil
}

func (m *Memory) DeleteChunksByDocument(_ context.Context, documentID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.chunks[documentID])
	delete(m.chunks, documentID)
	return n, nil
}

func (m *Memory) ChunkCountsByTenant(_ context.Context) ([]ChunkTenantCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byTenant := make(map[[2]uuid.UUID]int)
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			byTenant[[2]uuid.UUID{chunk.OrgID, chunk.DomainID}]++
		}
	}

	out := make([]ChunkTenantCount, 0, len(byTenant))
	for key, n := range byTenant {
		out = append(out, ChunkTenantCount{OrgID: key[0], DomainID: key[1], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrgID != out[j].OrgID {
			return out[i].OrgID.String() < out[j].OrgID.String()
		}
		return out[i].DomainID.String() < out[j].DomainID.String()
	})
	return out, nil
}

// Chat operations

func (m *Memory) CreateSession(_ context.Context, session *types.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	if session.Status == "" {
		session.Status = types.SessionActive
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, orgID, id uuid.UUID) (*types.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok || session.OrgID != orgID {
		return nil, fmt.Errorf("session %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *session
	return &cp, nil
}

func (m *Memory) ListSessions(_ context.Context, orgID, userID uuid.UUID, limit, offset int) ([]*types.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.ChatSession
	for _, session := range m.sessions {
		if session.OrgID != orgID {
			continue
		}
		if userID != uuid.Nil && session.UserID != userID {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return paginate(out, limit, offset), nil
}

func (m *Memory) ArchiveSession(_ context.Context, orgID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok || session.OrgID != orgID {
		return fmt.Errorf("session %s: %w", id, errdefs.ErrNotFound)
	}
	session.Status = types.SessionArchived
	return nil
}

func (m *Memory) AppendMessages(_ context.Context, sessionID uuid.UUID, msgs []*types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, errdefs.ErrNotFound)
	}
	now := time.Now()
	for _, msg := range msgs {
		session.MessageCount++
		msg.Seq = session.MessageCount
		msg.SessionID = sessionID
		msg.OrgID = session.OrgID
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		cp := *msg
		m.messages[sessionID] = append(m.messages[sessionID], &cp)
	}
	session.LastActivity = now
	return nil
}

func (m *Memory) ListMessages(_ context.Context, orgID, sessionID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.OrgID != orgID {
		return nil, fmt.Errorf("session %s: %w", sessionID, errdefs.ErrNotFound)
	}
	msgs := m.messages[sessionID]
	out := make([]*types.Message, 0, len(msgs))
	for _, msg := range msgs {
		cp := *msg
		out = append(out, &cp)
	}
	return paginate(out, limit, offset), nil
}

func (m *Memory) ActiveSessionCount(_ context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, session := range m.sessions {
		if session.Status == types.SessionActive && session.LastActivity.After(since) {
			count++
		}
	}
	return count, nil
}

// Connector operations

func (m *Memory) CreateConnector(_ context.Context, c *types.Connector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.connectors {
		if existing.OrgID == c.OrgID && existing.DomainID == c.DomainID && existing.Name == c.Name {
			return fmt.Errorf("connector %q exists: %w", c.Name, errdefs.ErrConflict)
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.connectors[c.ID] = &cp
	return nil
}

func (m *Memory) GetConnector(_ context.Context, orgID, id uuid.UUID) (*types.Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.connectors[id]
	if !ok || c.OrgID != orgID {
		return nil, fmt.Errorf("connector %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListConnectors(_ context.Context, orgID, domainID uuid.UUID) ([]*types.Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Connector
	for _, c := range m.connectors {
		if c.OrgID != orgID {
			continue
		}
		if domainID != uuid.Nil && c.DomainID != domainID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateConnector(_ context.Context, c *types.Connector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.connectors[c.ID]
	if !ok || existing.OrgID != c.OrgID {
		return fmt.Errorf("connector %s: %w", c.ID, errdefs.ErrNotFound)
	}
	c.UpdatedAt = time.Now()
	cp := *c
	m.connectors[c.ID] = &cp
	return nil
}

func (m *Memory) DeleteConnector(_ context.Context, orgID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connectors[id]
	if !ok || c.OrgID != orgID {
		return fmt.Errorf("connector %s: %w", id, errdefs.ErrNotFound)
	}
	delete(m.connectors, id)
	for pageID, page := range m.pages {
		if page.ConnectorID == id {
			delete(m.pageKeys, pageKey(id, page.URL))
			delete(m.pages, pageID)
		}
	}
	return nil
}

func (m *Memory) ListDueConnectors(_ context.Context, now time.Time) ([]*types.Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Connector
	for _, c := range m.connectors {
		if !c.Enabled || c.Schedule == "" {
			continue
		}
		interval, err := time.ParseDuration(c.Schedule)
		if err != nil || interval <= 0 {
			continue
		}
		if c.LastSyncAt == nil || c.LastSyncAt.Add(interval).Before(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Sync job operations

func (m *Memory) CreateSyncJob(_ context.Context, job *types.SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	cp := *job
	m.syncJobs[job.ID] = &cp
	return nil
}

func (m *Memory) UpdateSyncJob(_ context.Context, job *types.SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.syncJobs[job.ID]; !ok {
		return fmt.Errorf("sync job %s: %w", job.ID, errdefs.ErrNotFound)
	}
	cp := *job
	m.syncJobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetSyncJob(_ context.Context, orgID, id uuid.UUID) (*types.SyncJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.syncJobs[id]
	if !ok || job.OrgID != orgID {
		return nil, fmt.Errorf("sync job %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

func (m *Memory) ListSyncJobs(_ context.Context, orgID, connectorID uuid.UUID, limit int) ([]*types.SyncJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.SyncJob
	for _, job := range m.syncJobs {
		if job.OrgID != orgID || job.ConnectorID != connectorID {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, 0), nil
}

func (m *Memory) FailStaleSyncJobs(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	now := time.Now()
	for _, job := range m.syncJobs {
		if job.Status != types.SyncRunning {
			continue
		}
		started := job.CreatedAt
		if job.StartedAt != nil {
			started = *job.StartedAt
		}
		if started.Before(olderThan) {
			job.Status = types.SyncFailed
			job.ErrorMessage = "sync exceeded maximum runtime"
			job.CompletedAt = &now
			count++
		}
	}
	return count, nil
}

// Crawled page operations

func pageKey(connectorID uuid.UUID, url string) string {
	return connectorID.String() + "|" + url
}

func (m *Memory) UpsertCrawledPage(_ context.Context, page *types.CrawledPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pageKey(page.ConnectorID, page.URL)
	if page.LastCrawled.IsZero() {
		page.LastCrawled = time.Now()
	}
	if existingID, ok := m.pageKeys[key]; ok {
		page.ID = existingID
	} else if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	cp := *page
	m.pages[page.ID] = &cp
	m.pageKeys[key] = page.ID
	return nil
}

func (m *Memory) ListCrawledPages(_ context.Context, orgID, connectorID uuid.UUID, status types.PageStatus, limit, offset int) ([]*types.CrawledPage, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.CrawledPage
	for _, page := range m.pages {
		if page.OrgID != orgID || page.ConnectorID != connectorID {
			continue
		}
		if status != "" && page.Status != status {
			continue
		}
		cp := *page
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastCrawled.After(out[j].LastCrawled) })

	total := len(out)
	return paginate(out, limit, offset), total, nil
}

func (m *Memory) GetPageByURL(_ context.Context, connectorID uuid.UUID, url string) (*types.CrawledPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id, ok := m.pageKeys[pageKey(connectorID, url)]; ok {
		cp := *m.pages[id]
		return &cp, nil
	}
	return nil, fmt.Errorf("page %s: %w", url, errdefs.ErrNotFound)
}

func (m *Memory) GetPageByHash(_ context.Context, orgID, domainID uuid.UUID, hash string) (*types.CrawledPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, page := range m.pages {
		if page.OrgID == orgID && page.DomainID == domainID && page.ContentHash == hash {
			cp := *page
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("page hash %s: %w", hash, errdefs.ErrNotFound)
}

func (m *Memory) RecentPages(_ context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.CrawledPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.CrawledPage
	for _, page := range m.pages {
		if page.OrgID == orgID && page.DomainID == domainID {
			cp := *page
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastCrawled.After(out[j].LastCrawled) })
	return paginate(out, limit, 0), nil
}

func (m *Memory) PageAnalytics(_ context.Context, orgID, connectorID uuid.UUID) (*PageAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	analytics := &PageAnalytics{ByStatus: make(map[types.PageStatus]int)}
	var qualitySum, wordSum float64
	for _, page := range m.pages {
		if page.OrgID != orgID || page.ConnectorID != connectorID {
			continue
		}
		analytics.TotalPages++
		analytics.ByStatus[page.Status]++
		qualitySum += page.Quality.Overall
		wordSum += float64(page.WordCount)
	}
	if analytics.TotalPages > 0 {
		analytics.AvgQuality = qualitySum / float64(analytics.TotalPages)
		analytics.AvgWordCount = wordSum / float64(analytics.TotalPages)
		analytics.DuplicateRatio = float64(analytics.ByStatus[types.PageSkippedDuplicate]) / float64(analytics.TotalPages)
	}
	return analytics, nil
}

// Audit operations

func (m *Memory) CreateAuditEvent(_ context.Context, event *types.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	cp := *event
	m.audits = append(m.audits, &cp)
	return nil
}

func (m *Memory) ListAuditEvents(_ context.Context, orgID uuid.UUID, limit, offset int) ([]*types.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.AuditEvent
	for i := len(m.audits) - 1; i >= 0; i-- { // newest first
		if m.audits[i].OrgID == orgID {
			cp := *m.audits[i]
			out = append(out, &cp)
		}
	}
	return paginate(out, limit, offset), nil
}

// Record operations

func (m *Memory) CreateClassification(_ context.Context, c *types.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	m.classifs = append(m.classifs, &cp)
	return nil
}

func (m *Memory) CreateExecution(_ context.Context, e *types.RAGExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	m.execs = append(m.execs, &cp)
	return nil
}

func (m *Memory) ListExecutions(_ context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.RAGExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.RAGExecution
	for i := len(m.execs) - 1; i >= 0; i-- {
		e := m.execs[i]
		if e.OrgID != orgID {
			continue
		}
		if domainID != uuid.Nil && e.DomainID != domainID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return paginate(out, limit, 0), nil
}

func (m *Memory) CreateKnownIssue(_ context.Context, issue *types.KnownIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now()
	}
	cp := *issue
	m.issues = append(m.issues, &cp)
	return nil
}

func (m *Memory) ListKnownIssues(_ context.Context, orgID, domainID uuid.UUID) ([]*types.KnownIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.KnownIssue
	for _, issue := range m.issues {
		if issue.OrgID != orgID {
			continue
		}
		if domainID != uuid.Nil && issue.DomainID != domainID {
			continue
		}
		cp := *issue
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) CreateFeatureCandidate(_ context.Context, fc *types.FeatureCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fc.CreatedAt.IsZero() {
		fc.CreatedAt = time.Now()
	}
	if fc.Status == "" {
		fc.Status = "new"
	}
	cp := *fc
	m.features = append(m.features, &cp)
	return nil
}

func (m *Memory) ListFeatureCandidates(_ context.Context, orgID, domainID uuid.UUID, limit int) ([]*types.FeatureCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.FeatureCandidate
	for i := len(m.features) - 1; i >= 0; i-- {
		fc := m.features[i]
		if fc.OrgID != orgID {
			continue
		}
		if domainID != uuid.Nil && fc.DomainID != domainID {
			continue
		}
		cp := *fc
		out = append(out, &cp)
	}
	return paginate(out, limit, 0), nil
}

// Auth session operations

func (m *Memory) CreateAuthSession(_ context.Context, s *types.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	m.authSess[s.ID] = &cp
	return nil
}

func (m *Memory) GetAuthSession(_ context.Context, id uuid.UUID) (*types.AuthSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.authSess[id]
	if !ok {
		return nil, fmt.Errorf("auth session %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) GetAuthSessionByRefreshHash(_ context.Context, hash string) (*types.AuthSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.authSess {
		if s.RefreshHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("auth session: %w", errdefs.ErrNotFound)
}

func (m *Memory) UpdateAuthSession(_ context.Context, s *types.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.authSess[s.ID]; !ok {
		return fmt.Errorf("auth session %s: %w", s.ID, errdefs.ErrNotFound)
	}
	cp := *s
	m.authSess[s.ID] = &cp
	return nil
}

// RevokeSessionChain revokes the session, every successor reachable via
// ReplacedBy, and every ancestor pointing at it.
func (m *Memory) RevokeSessionChain(_ context.Context, startID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, ok := m.authSess[startID]
	if !ok {
		return 0, fmt.Errorf("auth session %s: %w", startID, errdefs.ErrNotFound)
	}

	count := 0
	revoke := func(s *types.AuthSession) {
		if s.State != types.SessionStateRevoked {
			s.State = types.SessionStateRevoked
			count++
		}
	}
	revoke(start)

	// Forward along ReplacedBy.
	for cur := start; cur.ReplacedBy != nil; {
		next, ok := m.authSess[*cur.ReplacedBy]
		if !ok {
			break
		}
		revoke(next)
		cur = next
	}

	// Backward: sessions whose ReplacedBy points into the chain.
	changed := true
	for changed {
		changed = false
		for _, s := range m.authSess {
			if s.ReplacedBy == nil || s.State == types.SessionStateRevoked {
				continue
			}
			if target, ok := m.authSess[*s.ReplacedBy]; ok && target.State == types.SessionStateRevoked {
				revoke(s)
				changed = true
			}
		}
	}
	return count, nil
}

func (m *Memory) ExpireAuthSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.authSess {
		if s.State == types.SessionStateActive && now.After(s.ExpiresAt) {
			s.State = types.SessionStateExpired
			count++
		}
	}
	return count, nil
}

// Job queue operations

func (m *Memory) Enqueue(_ context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobPending
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

// Dequeue claims the oldest due job of the given kinds, or returns nil when
// none is due.
func (m *Memory) Dequeue(_ context.Context, workerID string, kinds []types.JobKind) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var candidate *types.Job
	for _, job := range m.jobs {
		if job.Status != types.JobPending || job.RunAt.After(now) {
			continue
		}
		if len(kinds) > 0 && !containsKind(kinds, job.Kind) {
			continue
		}
		if candidate == nil || job.RunAt.Before(candidate.RunAt) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, nil
	}
	candidate.Status = types.JobRunning
	candidate.Attempts++
	candidate.LockedBy = workerID
	candidate.UpdatedAt = now
	cp := *candidate
	return &cp, nil
}

func (m *Memory) CompleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, errdefs.ErrNotFound)
	}
	job.Status = types.JobSucceeded
	job.LockedBy = ""
	job.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) FailJob(_ context.Context, id uuid.UUID, errMsg string, retryIn time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, errdefs.ErrNotFound)
	}
	now := time.Now()
	job.LastError = errMsg
	job.LockedBy = ""
	job.UpdatedAt = now
	if job.Attempts >= job.MaxAttempts {
		job.Status = types.JobFailed
	} else {
		job.Status = types.JobPending
		job.RunAt = now.Add(retryIn)
	}
	return nil
}

func (m *Memory) RequeueStaleJobs(_ context.Context, lease time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-lease)
	count := 0
	for _, job := range m.jobs {
		if job.Status == types.JobRunning && job.UpdatedAt.Before(cutoff) {
			job.Status = types.JobPending
			job.LockedBy = ""
			job.RunAt = time.Now()
			job.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}

func (m *Memory) PendingJobCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, job := range m.jobs {
		if job.Status == types.JobPending {
			count++
		}
	}
	return count, nil
}

func containsKind(kinds []types.JobKind, kind types.JobKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
