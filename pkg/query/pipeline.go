package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomehq/tome/pkg/ai"
	"github.com/tomehq/tome/pkg/audit"
	"github.com/tomehq/tome/pkg/auth"
	"github.com/tomehq/tome/pkg/cache"
	"github.com/tomehq/tome/pkg/config"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
	"github.com/tomehq/tome/pkg/vectorindex"
	"github.com/tomehq/tome/pkg/workflow"
)

const (
	// maxQueryChars bounds inbound query text.
	maxQueryChars = 4000

	// sessionTitleChars bounds the auto-generated session title.
	sessionTitleChars = 80

	// degradedConfidence is assigned when synthesis failed and the answer
	// only lists sources. Zero: an unsynthesised answer asserts nothing.
	degradedConfidence = 0.0

	// lowConfidenceCap limits answers flagged for uncited factual claims.
	lowConfidenceCap = 0.35
)

// noContextAnswer is the fixed response when nothing clears the floor.
const noContextAnswer = "I couldn't find anything in this knowledge base that addresses your question. " +
	"Try rephrasing it, or check whether the relevant content has been ingested yet."

const defaultSystemPrompt = "You are a support assistant answering from this team's knowledge base. " +
	"Be concise and factual."

// citeInstructions pins the answer to the numbered sources.
const citeInstructions = "Answer using only the numbered sources. Cite every factual statement with " +
	"its source marker, like [1]. If the sources do not answer the question, say so plainly."

// Deps carries the pipeline's collaborators. Store, Index, Embedder, and
// Chatter are required; Cache, Workflows, and Audit may be nil.
type Deps struct {
	Store     store.Store
	Index     vectorindex.Index
	Embedder  ai.Embedder
	Chatter   ai.Chatter
	Cache     *cache.QueryCache
	Workflows *workflow.Router
	Audit     *audit.Recorder
	Config    config.QueryConfig
}

// Pipeline answers queries: classify, probe the cache, retrieve, shape the
// prompt per intent, synthesise, cite, persist. Every run leaves a
// classification and an execution record behind, cancelled runs included.
type Pipeline struct {
	store      store.Store
	chatter    ai.Chatter
	cache      *cache.QueryCache
	workflows  *workflow.Router
	audit      *audit.Recorder
	classifier *Classifier
	retriever  *Retriever
	cfg        config.QueryConfig
	logger     zerolog.Logger
}

// NewPipeline creates the query pipeline.
func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{
		store:      deps.Store,
		chatter:    deps.Chatter,
		cache:      deps.Cache,
		workflows:  deps.Workflows,
		audit:      deps.Audit,
		classifier: NewClassifier(),
		retriever:  NewRetriever(deps.Embedder, deps.Index, deps.Store, deps.Config.KRetrieve),
		cfg:        deps.Config,
		logger:     log.WithComponent("query"),
	}
}

// Input is one query against a domain. A zero SessionID starts a fresh
// conversation. OnDelta, when set, receives answer fragments as the model
// produces them; the returned Answer still carries the full text either way.
type Input struct {
	Claims    *auth.Claims
	OrgID     uuid.UUID
	DomainID  uuid.UUID
	SessionID uuid.UUID
	Text      string
	OnDelta   func(delta string) error
}

// Answer is the pipeline's result for one query.
type Answer struct {
	SessionID  uuid.UUID               `json:"session_id"`
	MessageID  uuid.UUID               `json:"message_id"`
	Content    string                  `json:"content"`
	Intent     types.Intent            `json:"intent"`
	Confidence float64                 `json:"confidence"`
	Citations  []types.Citation        `json:"citations,omitempty"`
	Sources    []types.RetrievalResult `json:"sources,omitempty"`
	Structured map[string]any          `json:"structured,omitempty"`
	Handoff    bool                    `json:"handoff"`
	CacheHit   bool                    `json:"cache_hit"`
	LLMFailed  bool                    `json:"llm_failed"`
	Timings    types.ExecutionTimings  `json:"timings"`
}

// Answer runs the full pipeline for one query.
func (p *Pipeline) Answer(ctx context.Context, in Input) (*Answer, error) {
	started := time.Now()

	domain, err := p.authorize(ctx, in)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("query text must not be empty: %w", errdefs.ErrBadRequest)
	}
	if n := utf8.RuneCountInString(text); n > maxQueryChars {
		return nil, fmt.Errorf("query is %d characters, limit is %d: %w", n, maxQueryChars, errdefs.ErrBadRequest)
	}

	// An explicitly named session is validated up front; a fresh one is
	// only created once there is something to append.
	session, err := p.loadSession(ctx, in)
	if err != nil {
		return nil, err
	}

	// Classify first: the cache key is intent-aware.
	classifyStart := time.Now()
	verdict := p.classifier.Classify(text)
	timings := types.ExecutionTimings{ClassifyMS: time.Since(classifyStart).Milliseconds()}
	metrics.QueryDuration.WithLabelValues("classify").Observe(time.Since(classifyStart).Seconds())
	metrics.QueriesTotal.WithLabelValues(string(verdict.Intent)).Inc()
	p.recordClassification(ctx, domain, text, verdict)

	cached, ret, err := p.probeAndRetrieve(ctx, domain, verdict.Intent, text)
	if cached != nil {
		return p.finishCached(ctx, in, domain, text, cached, session, timings, started)
	}
	if err != nil {
		return nil, err
	}
	timings.EmbedMS, timings.SearchMS = ret.EmbedMS, ret.SearchMS
	metrics.QueryDuration.WithLabelValues("retrieve").Observe(float64(ret.EmbedMS+ret.SearchMS) / 1000)

	if len(ret.Results) == 0 {
		return p.finishEmpty(ctx, in, domain, text, verdict, session, timings, started)
	}

	selected := BuildContext(ret.Results, p.cfg.ContextTokens)
	wf, plan := p.preparePlan(ctx, domain, text, verdict, selected)

	synthStart := time.Now()
	content, llmErr := p.synthesize(ctx, domain, text, plan, selected, p.history(ctx, session), in.OnDelta)
	timings.SynthesizeMS = time.Since(synthStart).Milliseconds()
	metrics.QueryDuration.WithLabelValues("synthesize").Observe(time.Since(synthStart).Seconds())

	llmFailed := false
	if llmErr != nil {
		if ctx.Err() != nil {
			// Client gone. The classification and execution records stay
			// for audit; the conversation is not appended.
			timings.TotalMS = time.Since(started).Milliseconds()
			p.recordExecution(ctx, &types.RAGExecution{
				OrgID: domain.OrgID, DomainID: domain.ID, SessionID: sessionRef(session),
				Query: text, Intent: verdict.Intent, RetrievedCount: len(ret.Results),
				LLMFailed: true, Timings: timings,
			})
			return nil, fmt.Errorf("synthesis interrupted: %w", errdefs.ErrCancelled)
		}
		llmFailed = true
		metrics.LLMFailures.Inc()
		p.logger.Warn().Err(llmErr).
			Str("domain_id", domain.ID.String()).
			Msg("Synthesis failed, answering with sources only")
		content = degradedAnswer(selected)
	}

	content, citations, flagged := ExtractCitations(content, selected)
	confidence := answerConfidence(verdict.Confidence, selected, flagged, llmFailed)

	resp := &workflow.Response{
		OrgID:      domain.OrgID,
		DomainID:   domain.ID,
		Query:      text,
		Intent:     verdict.Intent,
		Answer:     content,
		Confidence: confidence,
		Threshold:  domain.AI.ConfidenceThreshold,
		Results:    selected,
		LLMFailed:  llmFailed,
	}
	p.post(ctx, wf, resp)
	content = resp.Answer

	session, err = p.ensureSession(ctx, in, text, session)
	if err != nil {
		return nil, err
	}
	userMsg, assistantMsg := buildMessages(session, text, content, verdict.Intent, confidence, citations)
	if err := p.store.AppendMessages(ctx, session.ID, []*types.Message{userMsg, assistantMsg}); err != nil {
		return nil, fmt.Errorf("failed to append messages: %w", err)
	}

	timings.TotalMS = time.Since(started).Milliseconds()
	metrics.QueryDuration.WithLabelValues("total").Observe(time.Since(started).Seconds())
	p.recordExecution(ctx, &types.RAGExecution{
		OrgID: domain.OrgID, DomainID: domain.ID, SessionID: sessionRef(session),
		Query: text, Intent: verdict.Intent, RetrievedCount: len(ret.Results),
		LLMFailed: llmFailed, Confidence: confidence, Timings: timings,
	})

	if p.cache != nil && !llmFailed {
		entry := &cache.CachedAnswer{
			Content: content, Intent: verdict.Intent, Confidence: confidence,
			Citations: citations, Handoff: resp.Handoff,
		}
		if err := p.cache.Set(ctx, domain.OrgID, domain.ID, verdict.Intent, text, entry); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to cache answer")
		}
	}

	p.auditMessage(ctx, in, session, verdict.Intent, false)

	return &Answer{
		SessionID:  session.ID,
		MessageID:  assistantMsg.ID,
		Content:    content,
		Intent:     verdict.Intent,
		Confidence: confidence,
		Citations:  citations,
		Sources:    selected,
		Structured: resp.Structured,
		Handoff:    resp.Handoff,
		LLMFailed:  llmFailed,
		Timings:    timings,
	}, nil
}

// authorize resolves the domain and checks chat:write against its access
// mode.
func (p *Pipeline) authorize(ctx context.Context, in Input) (*types.Domain, error) {
	domain, err := p.store.GetDomain(ctx, in.OrgID, in.DomainID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireDomain(in.Claims, auth.PermChatWrite, domain); err != nil {
		return nil, err
	}
	return domain, nil
}

// errCacheHit cancels the retrieval sibling when the probe lands; it never
// escapes probeAndRetrieve.
var errCacheHit = errors.New("query cache hit")

// probeAndRetrieve runs the cache probe and embed+search in parallel. A
// cache hit wins and cancels the search.
func (p *Pipeline) probeAndRetrieve(ctx context.Context, domain *types.Domain, intent types.Intent, text string) (*cache.CachedAnswer, *Retrieval, error) {
	var (
		hit *cache.CachedAnswer
		ret *Retrieval
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if p.cache == nil {
			return nil
		}
		if cached, ok := p.cache.Get(gctx, domain.OrgID, domain.ID, intent, text); ok {
			hit = cached
			return errCacheHit
		}
		return nil
	})
	g.Go(func() error {
		r, err := p.retriever.Retrieve(gctx, domain.OrgID, domain.ID, text, p.confidenceFloor(domain), searchMode(domain))
		if err != nil {
			return err
		}
		ret = r
		return nil
	})
	err := g.Wait()
	if hit != nil {
		return hit, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return nil, ret, nil
}

// confidenceFloor is the per-domain similarity floor, falling back to the
// service default.
func (p *Pipeline) confidenceFloor(domain *types.Domain) float64 {
	if raw, ok := domain.Settings["min_confidence"]; ok {
		if f, ok := raw.(float64); ok && f >= 0 && f <= 1 {
			return f
		}
	}
	return p.cfg.MinConfidence
}

// searchMode reads the domain's retrieval mode; hybrid unless vector is
// asked for explicitly.
func searchMode(domain *types.Domain) types.SearchMode {
	if raw, ok := domain.Settings["search_mode"]; ok {
		if s, ok := raw.(string); ok && types.SearchMode(s) == types.SearchVector {
			return types.SearchVector
		}
	}
	return types.SearchHybrid
}

// preparePlan routes to the intent workflow and collects its prompt plan.
// Workflow failures degrade to plain synthesis rather than failing the
// query.
func (p *Pipeline) preparePlan(ctx context.Context, domain *types.Domain, text string, verdict Verdict, selected []types.RetrievalResult) (workflow.Workflow, *workflow.PromptPlan) {
	if p.workflows == nil {
		return nil, &workflow.PromptPlan{}
	}
	wf := p.workflows.For(verdict.Intent)
	plan, err := wf.Prepare(ctx, &workflow.Request{
		OrgID:      domain.OrgID,
		DomainID:   domain.ID,
		Query:      text,
		Intent:     verdict.Intent,
		Confidence: verdict.Confidence,
		Results:    selected,
	})
	if err != nil || plan == nil {
		if err != nil {
			p.logger.Warn().Err(err).Str("intent", string(verdict.Intent)).Msg("Workflow prepare failed")
		}
		plan = &workflow.PromptPlan{}
	}
	return wf, plan
}

func (p *Pipeline) post(ctx context.Context, wf workflow.Workflow, resp *workflow.Response) {
	if wf == nil {
		// No router wired: apply the handoff rule directly.
		if resp.Threshold > 0 && resp.Confidence < resp.Threshold {
			resp.Handoff = true
		}
		return
	}
	if err := wf.Post(ctx, resp); err != nil {
		p.logger.Warn().Err(err).Str("intent", string(resp.Intent)).Msg("Workflow post failed")
	}
}

// synthesize builds the prompt and calls the model. The domain's system
// prompt leads, the workflow's instructions and the citation contract
// follow, and the user turn carries the numbered sources. When onDelta is
// set and the chatter supports streaming, fragments go out as they arrive.
func (p *Pipeline) synthesize(ctx context.Context, domain *types.Domain, text string, plan *workflow.PromptPlan, selected []types.RetrievalResult, history []ai.ChatMessage, onDelta func(string) error) (string, error) {
	system := domain.AI.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	if plan.Instructions != "" {
		system += "\n\n" + plan.Instructions
	}
	system += "\n\n" + citeInstructions

	var sb strings.Builder
	if plan.Preamble != "" {
		sb.WriteString(plan.Preamble)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Sources:\n")
	for i, src := range selected {
		title := src.Title
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, title, src.Content)
	}
	sb.WriteString("Question: ")
	sb.WriteString(text)

	messages := append(history, ai.ChatMessage{Role: ai.RoleUser, Content: sb.String()})
	req := ai.ChatRequest{
		Model:       domain.AI.Model,
		System:      system,
		Messages:    messages,
		Temperature: float64(domain.AI.Temperature),
		MaxTokens:   domain.AI.MaxTokens,
	}
	if onDelta != nil {
		if sc, ok := p.chatter.(ai.StreamChatter); ok {
			return sc.CompleteStream(ctx, req, onDelta)
		}
	}
	return p.chatter.Complete(ctx, req)
}

// history loads the session's recent window as chat turns, oldest first.
func (p *Pipeline) history(ctx context.Context, session *types.ChatSession) []ai.ChatMessage {
	window := p.cfg.HistoryWindow
	if session == nil || window <= 0 || session.MessageCount == 0 {
		return nil
	}
	offset := session.MessageCount - window
	if offset < 0 {
		offset = 0
	}
	msgs, err := p.store.ListMessages(ctx, session.OrgID, session.ID, window, offset)
	if err != nil {
		p.logger.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Failed to load session history")
		return nil
	}
	out := make([]ai.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := ai.RoleUser
		switch m.Type {
		case types.MessageAssistant:
			role = ai.RoleAssistant
		case types.MessageSystem:
			continue
		}
		out = append(out, ai.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

// finishCached completes a cache-hit run: the conversation and records are
// still written, only retrieval and synthesis were skipped.
func (p *Pipeline) finishCached(ctx context.Context, in Input, domain *types.Domain, text string, hit *cache.CachedAnswer, session *types.ChatSession, timings types.ExecutionTimings, started time.Time) (*Answer, error) {
	session, err := p.ensureSession(ctx, in, text, session)
	if err != nil {
		return nil, err
	}
	userMsg, assistantMsg := buildMessages(session, text, hit.Content, hit.Intent, hit.Confidence, hit.Citations)
	if err := p.store.AppendMessages(ctx, session.ID, []*types.Message{userMsg, assistantMsg}); err != nil {
		return nil, fmt.Errorf("failed to append messages: %w", err)
	}

	timings.TotalMS = time.Since(started).Milliseconds()
	metrics.QueryDuration.WithLabelValues("total").Observe(time.Since(started).Seconds())
	p.recordExecution(ctx, &types.RAGExecution{
		OrgID: domain.OrgID, DomainID: domain.ID, SessionID: sessionRef(session),
		Query: text, Intent: hit.Intent, CacheHit: true,
		Confidence: hit.Confidence, Timings: timings,
	})
	p.auditMessage(ctx, in, session, hit.Intent, true)

	return &Answer{
		SessionID:  session.ID,
		MessageID:  assistantMsg.ID,
		Content:    hit.Content,
		Intent:     hit.Intent,
		Confidence: hit.Confidence,
		Citations:  hit.Citations,
		Handoff:    hit.Handoff,
		CacheHit:   true,
		Timings:    timings,
	}, nil
}

// finishEmpty completes a run where nothing cleared the floor: the fixed
// no-context answer at confidence zero. Not cached, so fresh ingests
// become visible immediately.
func (p *Pipeline) finishEmpty(ctx context.Context, in Input, domain *types.Domain, text string, verdict Verdict, session *types.ChatSession, timings types.ExecutionTimings, started time.Time) (*Answer, error) {
	session, err := p.ensureSession(ctx, in, text, session)
	if err != nil {
		return nil, err
	}
	userMsg, assistantMsg := buildMessages(session, text, noContextAnswer, verdict.Intent, 0, nil)
	if err := p.store.AppendMessages(ctx, session.ID, []*types.Message{userMsg, assistantMsg}); err != nil {
		return nil, fmt.Errorf("failed to append messages: %w", err)
	}

	timings.TotalMS = time.Since(started).Milliseconds()
	metrics.QueryDuration.WithLabelValues("total").Observe(time.Since(started).Seconds())
	p.recordExecution(ctx, &types.RAGExecution{
		OrgID: domain.OrgID, DomainID: domain.ID, SessionID: sessionRef(session),
		Query: text, Intent: verdict.Intent, Timings: timings,
	})
	p.auditMessage(ctx, in, session, verdict.Intent, false)

	return &Answer{
		SessionID:  session.ID,
		MessageID:  assistantMsg.ID,
		Content:    noContextAnswer,
		Intent:     verdict.Intent,
		Confidence: 0,
		Handoff:    domain.AI.ConfidenceThreshold > 0,
		Timings:    timings,
	}, nil
}

// loadSession resolves an explicitly named session. Foreign sessions read
// as absent so existence never leaks across users or tenants.
func (p *Pipeline) loadSession(ctx context.Context, in Input) (*types.ChatSession, error) {
	if in.SessionID == uuid.Nil {
		return nil, nil
	}
	session, err := p.store.GetSession(ctx, in.OrgID, in.SessionID)
	if err != nil {
		return nil, err
	}
	if in.Claims != nil && session.UserID != in.Claims.UserID {
		return nil, fmt.Errorf("session %s: %w", in.SessionID, errdefs.ErrNotFound)
	}
	if session.DomainID != in.DomainID {
		return nil, fmt.Errorf("session %s belongs to another domain: %w", in.SessionID, errdefs.ErrBadRequest)
	}
	if session.Status != types.SessionActive {
		return nil, fmt.Errorf("session %s is %s: %w", in.SessionID, session.Status, errdefs.ErrConflict)
	}
	return session, nil
}

// ensureSession creates the conversation on first append.
func (p *Pipeline) ensureSession(ctx context.Context, in Input, text string, session *types.ChatSession) (*types.ChatSession, error) {
	if session != nil {
		return session, nil
	}
	now := time.Now()
	session = &types.ChatSession{
		ID:           uuid.New(),
		OrgID:        in.OrgID,
		DomainID:     in.DomainID,
		Title:        truncate(text, sessionTitleChars),
		Status:       types.SessionActive,
		CreatedAt:    now,
		LastActivity: now,
	}
	if in.Claims != nil {
		session.UserID = in.Claims.UserID
	}
	if err := p.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func buildMessages(session *types.ChatSession, text, answer string, intent types.Intent, confidence float64, citations []types.Citation) (*types.Message, *types.Message) {
	now := time.Now()
	user := &types.Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		OrgID:     session.OrgID,
		Type:      types.MessageUser,
		Content:   text,
		CreatedAt: now,
	}
	assistant := &types.Message{
		ID:         uuid.New(),
		SessionID:  session.ID,
		OrgID:      session.OrgID,
		Type:       types.MessageAssistant,
		Content:    answer,
		Intent:     intent,
		Confidence: confidence,
		Citations:  citations,
		CreatedAt:  now,
	}
	return user, assistant
}

// recordClassification persists the classifier's verdict. Detached from
// request cancellation: the record survives a client disconnect.
func (p *Pipeline) recordClassification(ctx context.Context, domain *types.Domain, text string, v Verdict) {
	rec := &types.Classification{
		ID:         uuid.New(),
		OrgID:      domain.OrgID,
		DomainID:   domain.ID,
		Query:      text,
		Intent:     v.Intent,
		Confidence: v.Confidence,
		Reasoning:  v.Reasoning,
		CreatedAt:  time.Now(),
	}
	if err := p.store.CreateClassification(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record classification")
	}
}

// recordExecution persists the run record, detached from cancellation like
// the classification.
func (p *Pipeline) recordExecution(ctx context.Context, exec *types.RAGExecution) {
	exec.ID = uuid.New()
	exec.CreatedAt = time.Now()
	if err := p.store.CreateExecution(context.WithoutCancel(ctx), exec); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record query execution")
	}
}

func (p *Pipeline) auditMessage(ctx context.Context, in Input, session *types.ChatSession, intent types.Intent, cached bool) {
	if p.audit == nil {
		return
	}
	detail := fmt.Sprintf("intent %s", intent)
	if cached {
		detail += " (cached)"
	}
	var userID *uuid.UUID
	if in.Claims != nil {
		id := in.Claims.UserID
		userID = &id
	}
	p.audit.Record(ctx, audit.Entry{
		OrgID:      in.OrgID,
		UserID:     userID,
		Action:     string(events.EventChatMessage),
		Resource:   "session",
		ResourceID: session.ID.String(),
		Detail:     detail,
	})
}

func sessionRef(session *types.ChatSession) *uuid.UUID {
	if session == nil {
		return nil
	}
	id := session.ID
	return &id
}

// answerConfidence blends intent certainty with retrieval strength.
// Uncited factual claims and degraded synthesis cap it hard.
func answerConfidence(intentConf float64, selected []types.RetrievalResult, flagged, llmFailed bool) float64 {
	if llmFailed {
		return degradedConfidence
	}
	var top float64
	for _, s := range selected {
		if s.Score > top {
			top = s.Score
		}
	}
	conf := 0.5*intentConf + 0.5*top
	if flagged && conf > lowConfidenceCap {
		conf = lowConfidenceCap
	}
	return conf
}

// degradedAnswer lists the retrieved sources when synthesis is
// unavailable. The [n] markers resolve into ordinary citations.
func degradedAnswer(selected []types.RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString("The answering model is unavailable right now. These are the most relevant sources found:\n\n")
	for i, src := range selected {
		title := src.Title
		if title == "" {
			title = "Untitled source"
		}
		fmt.Fprintf(&sb, "%d. %s [%d]\n   %s\n", i+1, title, i+1, src.Snippet)
	}
	return strings.TrimRight(sb.String(), "\n")
}
