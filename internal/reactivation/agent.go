// Package reactivation runs the staged agent graph that decides whether a
// dormant lead should be contacted again and prepares the message.
//
// The graph is perception → memory retrieval → signal detection → reasoning →
// message generation → compliance check → human handoff, with early exits
// after signal detection, reasoning and compliance. State is checkpointed
// after every node so an interrupted run resumes at the next node.
package reactivation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/internal/channels"
	"github.com/leadpilot/internal/compliance"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/knowledge"
	"github.com/leadpilot/internal/llm"
	"github.com/leadpilot/internal/notify"
	"github.com/leadpilot/internal/signals"
	"github.com/leadpilot/internal/storage"
	"github.com/leadpilot/pkg/models"
)

// Memory is the semantic lookup over a lead's history
type Memory interface {
	SearchLead(ctx context.Context, tenantID int64, leadID, query string, k int, threshold float64) ([]knowledge.Match, error)
}

// messageIndexer is implemented by memories that must be fed the history first
type messageIndexer interface {
	IndexMessages(ctx context.Context, tenantID int64, msgs []models.Message) error
}

// SignalDetector finds and scores external signals for a lead
type SignalDetector interface {
	Detect(ctx context.Context, t signals.Target) []models.Signal
}

// Checkpointer persists run state between nodes
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, c *models.Checkpoint) error
	LatestCheckpoint(ctx context.Context, runID string) (*models.Checkpoint, error)
}

type Options struct {
	BatchQuota         int
	DealValueLimit     float64
	AutoSendConfidence float64
	MemoryTopK         int
	MemoryThreshold    float64
	NodeTimeout        time.Duration
	MaxTokens          int
}

func DefaultOptions() Options {
	return Options{
		BatchQuota:         10,
		DealValueLimit:     10000,
		AutoSendConfidence: 0.9,
		MemoryTopK:         5,
		MemoryThreshold:    0.6,
		NodeTimeout:        60 * time.Second,
		MaxTokens:          600,
	}
}

type Deps struct {
	Store     storage.Gateway
	Memory    Memory
	Signals   SignalDetector
	Generator llm.Generator
	Checker   *compliance.Checker
	Sender    channels.Sender
	Notifier  notify.Notifier
	Bus       eventbus.Publisher
	// Checkpoints is optional; without it runs cannot be resumed
	Checkpoints Checkpointer
}

type Agent struct {
	store       storage.Gateway
	mem         Memory
	signals     SignalDetector
	gen         llm.Generator
	checker     *compliance.Checker
	sender      channels.Sender
	notifier    notify.Notifier
	bus         eventbus.Publisher
	checkpoints Checkpointer
	quota       *Quota
	opts        Options
	nodes       map[string]nodeFunc
	now         func() time.Time
	logger      zerolog.Logger
}

func NewAgent(d Deps, opts Options) *Agent {
	def := DefaultOptions()
	if opts.BatchQuota <= 0 {
		opts.BatchQuota = def.BatchQuota
	}
	if opts.DealValueLimit <= 0 {
		opts.DealValueLimit = def.DealValueLimit
	}
	if opts.AutoSendConfidence <= 0 {
		opts.AutoSendConfidence = def.AutoSendConfidence
	}
	if opts.MemoryTopK <= 0 {
		opts.MemoryTopK = def.MemoryTopK
	}
	if opts.MemoryThreshold <= 0 {
		opts.MemoryThreshold = def.MemoryThreshold
	}
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = def.NodeTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	a := &Agent{
		store:       d.Store,
		mem:         d.Memory,
		signals:     d.Signals,
		gen:         d.Generator,
		checker:     d.Checker,
		sender:      d.Sender,
		notifier:    d.Notifier,
		bus:         d.Bus,
		checkpoints: d.Checkpoints,
		quota:       NewQuota(opts.BatchQuota),
		opts:        opts,
		now:         time.Now,
		logger:      log.With().Str("component", "reactivation").Logger(),
	}
	if a.checker == nil {
		a.checker = compliance.New(nil)
	}
	if a.notifier == nil {
		a.notifier = notify.LogNotifier{}
	}
	if a.bus == nil {
		a.bus = eventbus.Discard{}
	}
	a.nodes = map[string]nodeFunc{
		NodePerception: a.perception,
		NodeMemory:     a.memory,
		NodeSignals:    a.detectSignals,
		NodeReasoning:  a.reasoning,
		NodeGeneration: a.generate,
		NodeCompliance: a.checkCompliance,
		NodeAutoSend:   a.autoSend,
		NodeHandoff:    a.handoff,
	}
	return a
}

// SetClock replaces the agent clock
func (a *Agent) SetClock(now func() time.Time) { a.now = now }

// next is the routing table of the graph
func (a *Agent) next(node string, s *State) string {
	switch node {
	case NodePerception:
		return NodeMemory
	case NodeMemory:
		return NodeSignals
	case NodeSignals:
		if !signals.Actionable(s.Signals) {
			return End
		}
		return NodeReasoning
	case NodeReasoning:
		if s.ShouldReactivate == nil || !*s.ShouldReactivate || s.ConfidenceScore < minReactivateConfidence {
			return End
		}
		return NodeGeneration
	case NodeGeneration:
		return NodeCompliance
	case NodeCompliance:
		if s.CompliancePassed == nil || !*s.CompliancePassed {
			return End
		}
		if a.canAutoSend(s) {
			return NodeAutoSend
		}
		return NodeHandoff
	case NodeAutoSend:
		if s.SentMessageID == "" {
			return NodeHandoff
		}
	}
	return End
}

func outcomeAfter(node string) models.RunOutcome {
	switch node {
	case NodeSignals:
		return models.OutcomeNoSignal
	case NodeReasoning:
		return models.OutcomeNotReactivated
	case NodeCompliance:
		return models.OutcomeRejected
	case NodeAutoSend:
		return models.OutcomeAutoSent
	}
	return models.OutcomeDrafted
}

// Run executes the graph for one lead. The returned run is completed or failed;
// err is set for failed runs and quota rejections.
func (a *Agent) Run(ctx context.Context, tenantID int64, leadID string) (*models.ReactivationRun, error) {
	release, err := a.quota.Acquire(tenantID, leadID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := a.now()
	run := &models.ReactivationRun{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		LeadID:    leadID,
		Status:    models.RunStarted,
		StartedAt: now,
	}
	if err := a.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	state := &State{TenantID: tenantID, LeadID: leadID, RunID: run.ID, StartedAt: now}
	a.logger.Info().Str("run_id", run.ID).Int64("tenant_id", tenantID).Str("lead_id", leadID).Msg("reactivation run started")
	return a.execute(ctx, run, state, NodePerception)
}

// Resume continues a started run after its last checkpoint
func (a *Agent) Resume(ctx context.Context, tenantID int64, runID string) (*models.ReactivationRun, error) {
	run, err := a.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == models.RunCompleted {
		return nil, apperr.E(apperr.KindConflict, "reactivation.Resume", fmt.Errorf("run %s already completed", runID))
	}
	release, err := a.quota.Acquire(tenantID, run.LeadID)
	if err != nil {
		return nil, err
	}
	defer release()

	state := &State{TenantID: tenantID, LeadID: run.LeadID, RunID: run.ID, StartedAt: run.StartedAt}
	start := NodePerception
	if a.checkpoints != nil {
		cp, err := a.checkpoints.LatestCheckpoint(ctx, runID)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			if err := json.Unmarshal(cp.State, state); err != nil {
				return nil, apperr.E(apperr.KindInternal, "reactivation.Resume", fmt.Errorf("decode checkpoint: %w", err))
			}
			start = a.next(cp.Node, state)
			run.LastNode = cp.Node
		}
	}
	run.Status = models.RunStarted
	run.Error = ""
	state.Error = ""
	a.logger.Info().Str("run_id", run.ID).Str("from", start).Msg("reactivation run resumed")
	if start == End {
		return a.complete(ctx, run, state, run.LastNode)
	}
	return a.execute(ctx, run, state, start)
}

func (a *Agent) execute(ctx context.Context, run *models.ReactivationRun, state *State, node string) (*models.ReactivationRun, error) {
	last := run.LastNode
	for node != End {
		fn, ok := a.nodes[node]
		if !ok {
			return a.fail(ctx, run, state, node, apperr.E(apperr.KindInternal, "reactivation.execute", fmt.Errorf("unknown node %q", node)))
		}
		nctx, cancel := context.WithTimeout(ctx, a.opts.NodeTimeout)
		upd, err := fn(nctx, *state)
		cancel()
		if err != nil {
			return a.fail(ctx, run, state, node, err)
		}
		state.merge(upd)
		a.checkpoint(ctx, run, node, state)
		last = node
		run.LastNode = node
		node = a.next(node, state)
	}
	return a.complete(ctx, run, state, last)
}

func (a *Agent) checkpoint(ctx context.Context, run *models.ReactivationRun, node string, state *State) {
	if a.checkpoints == nil {
		return
	}
	b, err := json.Marshal(state)
	if err == nil {
		err = a.checkpoints.SaveCheckpoint(ctx, &models.Checkpoint{RunID: run.ID, Node: node, State: b, CreatedAt: a.now()})
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("reason", apperr.ReasonCheckpointFailed).Str("run_id", run.ID).Str("node", node).Msg("checkpoint not saved")
	}
}

func (a *Agent) complete(ctx context.Context, run *models.ReactivationRun, state *State, last string) (*models.ReactivationRun, error) {
	state.Outcome = outcomeAfter(last)
	run.Status = models.RunCompleted
	run.Outcome = state.Outcome
	a.finalize(ctx, run, state)
	a.publish(eventbus.Event{Topic: eventbus.TopicReactivation, TenantID: run.TenantID, LeadID: run.LeadID, Data: *run})
	a.logger.Info().Str("run_id", run.ID).Str("outcome", string(run.Outcome)).Str("last_node", last).Msg("reactivation run completed")
	return run, nil
}

func (a *Agent) fail(ctx context.Context, run *models.ReactivationRun, state *State, node string, cause error) (*models.ReactivationRun, error) {
	state.Error = cause.Error()
	run.Status = models.RunFailed
	run.Error = fmt.Sprintf("%s: %v", node, cause)
	a.finalize(ctx, run, state)
	a.logger.Error().Err(cause).Str("run_id", run.ID).Str("node", node).Msg("reactivation run failed")
	return run, fmt.Errorf("reactivation node %s: %w", node, cause)
}

// finalize stores the snapshot even when ctx is already done
func (a *Agent) finalize(ctx context.Context, run *models.ReactivationRun, state *State) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if b, err := json.Marshal(state); err == nil {
		run.FinalState = b
	}
	done := a.now()
	run.CompletedAt = &done
	if err := a.store.UpdateRun(dctx, run); err != nil {
		a.logger.Error().Err(err).Str("run_id", run.ID).Msg("run snapshot not persisted")
	}
}

// DecodeState reads a run's final state snapshot
func DecodeState(run *models.ReactivationRun) (*State, error) {
	if len(run.FinalState) == 0 {
		return nil, apperr.NotFound("reactivation.DecodeState", "final state")
	}
	var s State
	if err := json.Unmarshal(run.FinalState, &s); err != nil {
		return nil, apperr.E(apperr.KindInternal, "reactivation.DecodeState", err)
	}
	return &s, nil
}

// BatchResult is the per-lead outcome of RunBatch
type BatchResult struct {
	LeadID  string            `json:"lead_id"`
	RunID   string            `json:"run_id,omitempty"`
	Status  models.RunStatus  `json:"status,omitempty"`
	Outcome models.RunOutcome `json:"outcome,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// RunBatch runs the graph for up to BatchQuota distinct leads concurrently.
// Results keep the order of leadIDs.
func (a *Agent) RunBatch(ctx context.Context, tenantID int64, leadIDs []string) ([]BatchResult, error) {
	seen := make(map[string]bool, len(leadIDs))
	var ids []string
	for _, id := range leadIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) > a.opts.BatchQuota {
		return nil, apperr.Invalid("reactivation.RunBatch", "at most %d leads per batch, got %d", a.opts.BatchQuota, len(ids))
	}

	results := make([]BatchResult, len(ids))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.opts.BatchQuota)
	for i, id := range ids {
		eg.Go(func() error {
			res := BatchResult{LeadID: id}
			run, err := a.Run(egCtx, tenantID, id)
			if run != nil {
				res.RunID = run.ID
				res.Status = run.Status
				res.Outcome = run.Outcome
			}
			if err != nil {
				res.Error = apperr.CodeOf(err)
			}
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()
	return results, nil
}

// DormantLeads lists leads without interaction for at least minDays
func (a *Agent) DormantLeads(ctx context.Context, tenantID int64, minDays, limit int) ([]models.Lead, error) {
	if minDays <= 0 {
		minDays = 30
	}
	cutoff := a.now().Add(-time.Duration(minDays) * 24 * time.Hour)
	return a.store.DormantLeads(ctx, tenantID, cutoff, limit)
}

// ReactivateDormant picks up to maxLeads dormant leads and runs a batch over them
func (a *Agent) ReactivateDormant(ctx context.Context, tenantID int64, minDays, maxLeads int) ([]BatchResult, error) {
	if maxLeads <= 0 || maxLeads > a.opts.BatchQuota {
		maxLeads = a.opts.BatchQuota
	}
	leads, err := a.DormantLeads(ctx, tenantID, minDays, maxLeads)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(leads))
	for _, l := range leads {
		ids = append(ids, l.ID)
	}
	return a.RunBatch(ctx, tenantID, ids)
}

func (a *Agent) publishEvent(s State, t models.LearningEventType, action models.Action) {
	p := s.perception()
	ev := models.LearningEvent{
		ID:               uuid.NewString(),
		TenantID:         s.TenantID,
		EventType:        t,
		ContextType:      models.ContextReactivation,
		LeadID:           s.LeadID,
		TemplateID:       templateID(s.Strategy),
		TemplateCategory: string(s.Strategy),
		Channel:          s.SuggestedChannel,
		Vertical:         p.Industry,
		LeadStatus:       models.LeadStatusDormant,
		AIDecision: models.AIDecision{
			Action:      action,
			Confidence:  s.ConfidenceScore,
			MessageText: s.DraftMessage,
			WordCount:   len(strings.Fields(s.DraftMessage)),
			Strategy:    string(s.Strategy),
		},
		LearningSignals: map[string]any{
			"run_id":       s.RunID,
			"signal_count": len(s.Signals),
			"days_dormant": p.DaysDormant,
		},
		IsSignificant: action == models.ActionAutoSend,
		CreatedAt:     a.now(),
	}
	a.publish(eventbus.Event{Topic: eventbus.TopicLearningEvent, TenantID: s.TenantID, LeadID: s.LeadID, Data: ev})
}

func (a *Agent) publish(ev eventbus.Event) {
	if ev.At.IsZero() {
		ev.At = a.now()
	}
	if !a.bus.Publish(ev) {
		a.logger.Warn().Str("reason", apperr.ReasonEventPublishFailed).Str("topic", ev.Topic).Msg("event not delivered to every subscriber")
	}
}

// IsQuotaError reports whether err is a quota or in-flight rejection
func IsQuotaError(err error) bool {
	return errors.Is(err, apperr.ErrConflict)
}
