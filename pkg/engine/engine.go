package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/graphpatch/pkg/graph"
	"github.com/openfroyo/graphpatch/pkg/handlers"
	"github.com/openfroyo/graphpatch/pkg/registry"
	"github.com/openfroyo/graphpatch/pkg/script"
	"github.com/openfroyo/graphpatch/pkg/telemetry"
)

// Defaults used when an option is not given.
const (
	DefaultTTL              = 10 * time.Minute
	DefaultMaxActions       = 50
	DefaultMaxDisplayErrors = 15
)

// Registry is the operation registry the engine parses against.
type Registry interface {
	Snapshot() *registry.Table
	Reload(ctx context.Context) error
}

// Engine runs the plan, confirm and apply workflow. Plan, Apply and Cancel
// for the same target are serialized; different targets proceed in parallel.
type Engine struct {
	registry Registry
	handlers HandlerLookup
	graphs   graph.Provider
	store    PlanStore
	recorder Recorder
	policy   PlanPolicy
	executor *Executor
	locks    *targetLocks
	clock    Clock

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	ttl              time.Duration
	maxActions       int
	maxDisplayErrors int
	codeLength       int
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the pending patch store. The default keeps patches in memory.
func WithStore(store PlanStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithRecorder sets where apply history and audit events are written.
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

// WithPolicy sets the policy evaluated over every plan.
func WithPolicy(policy PlanPolicy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithTracer sets the tracer.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithTTL sets how long a pending patch stays applicable.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithMaxActions caps the number of actions in one script.
func WithMaxActions(n int) Option {
	return func(e *Engine) { e.maxActions = n }
}

// WithMaxDisplayErrors caps the diagnostics returned with a rejected plan.
func WithMaxDisplayErrors(n int) Option {
	return func(e *Engine) { e.maxDisplayErrors = n }
}

// WithCodeLength sets the confirmation code length.
func WithCodeLength(n int) Option {
	return func(e *Engine) { e.codeLength = n }
}

// New creates an engine.
func New(reg Registry, lookup HandlerLookup, graphs graph.Provider, opts ...Option) (*Engine, error) {
	if reg == nil || lookup == nil || graphs == nil {
		return nil, fmt.Errorf("engine requires a registry, handlers and a graph provider")
	}

	e := &Engine{
		registry:         reg,
		handlers:         lookup,
		graphs:           graphs,
		locks:            newTargetLocks(),
		clock:            systemClock{},
		logger:           zerolog.Nop(),
		ttl:              DefaultTTL,
		maxActions:       DefaultMaxActions,
		maxDisplayErrors: DefaultMaxDisplayErrors,
		codeLength:       DefaultCodeLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewMemoryStore()
	}
	if e.ttl <= 0 {
		return nil, fmt.Errorf("patch TTL must be positive, got %s", e.ttl)
	}

	e.logger = e.logger.With().Str("component", "engine").Logger()
	e.executor = NewExecutor(lookup, e.logger, e.metrics, e.tracer)
	e.executor.clock = e.clock
	return e, nil
}

// TTL returns how long a pending patch stays applicable.
func (e *Engine) TTL() time.Duration {
	return e.ttl
}

// Parse parses src against the current registry table without storing anything.
func (e *Engine) Parse(src string) *script.Result {
	return script.Parse(src, e.registry.Snapshot(), script.Options{MaxActions: e.maxActions})
}

// PlanOptions carries optional plan metadata.
type PlanOptions struct {
	// Actor identifies who planned the patch.
	Actor string
}

// Plan parses src and stores it as the target's pending patch, replacing any
// earlier one. A script with errors is rejected with a *PlanRejectedError and
// leaves the store untouched.
func (e *Engine) Plan(ctx context.Context, targetID, src string, opts PlanOptions) (*PlanResult, error) {
	if targetID == "" {
		return nil, fmt.Errorf("target ID is required")
	}

	ctx, span := e.tracer.StartPlanSpan(ctx, targetID)
	defer span.End()

	logger := e.logger.With().Str("target_id", targetID).Logger()

	res := e.Parse(src)
	if !res.OK() {
		rejected := &PlanRejectedError{
			Diagnostics: capDiagnostics(res.Errors, e.maxDisplayErrors),
			Total:       len(res.Errors),
		}
		logger.Info().Int("errors", rejected.Total).Msg("plan rejected")
		e.metrics.RecordPlanRejected("parse")
		e.recordEvent(ctx, EventPlanRejected, targetID, "", opts.Actor, rejected.Error())
		telemetry.RecordError(span, rejected)
		return nil, rejected
	}
	if len(res.Actions) == 0 {
		err := &EngineError{Class: ErrorClassParse, Code: ErrCodeEmptyPlan, Message: ErrEmptyPlan.Message, Target: targetID}
		e.metrics.RecordPlanRejected("empty")
		return nil, err
	}

	var policyWarnings []Violation
	if e.policy != nil {
		violations, err := e.policy.EvaluatePlan(ctx, PolicyInput{TargetID: targetID, Actor: opts.Actor, Actions: res.Actions})
		if err != nil {
			err = NewInternalError(ErrCodePolicyError, "policy evaluation failed", err).WithTarget(targetID)
			telemetry.RecordError(span, err)
			return nil, err
		}
		var denied []Violation
		for _, v := range violations {
			if v.Severity == SeverityWarning {
				policyWarnings = append(policyWarnings, v)
				continue
			}
			denied = append(denied, v)
		}
		if len(denied) > 0 {
			rejected := &PlanRejectedError{Violations: denied}
			logger.Info().Int("violations", len(denied)).Msg("plan denied by policy")
			e.metrics.RecordPlanRejected("policy")
			e.recordEvent(ctx, EventPlanRejected, targetID, "", opts.Actor, rejected.Error())
			telemetry.RecordError(span, rejected)
			return nil, rejected
		}
	}

	code, err := newCode(e.codeLength)
	if err != nil {
		return nil, NewInternalError(ErrCodeStore, "cannot create confirmation code", err).WithTarget(targetID)
	}

	patch := &PendingPatch{
		PlanID:    uuid.New().String(),
		TargetID:  targetID,
		Code:      code,
		Actions:   res.Actions,
		CreatedAt: e.clock.Now(),
		Actor:     opts.Actor,
	}
	for _, a := range res.Actions {
		if a.Destructive {
			patch.ContainsDestructive = true
			break
		}
	}

	unlock := e.locks.lock(targetID)
	replaced, err := e.store.Put(ctx, patch)
	unlock()
	if err != nil {
		err = NewInternalError(ErrCodeStore, "failed to store pending patch", err).WithTarget(targetID)
		telemetry.RecordError(span, err)
		return nil, err
	}

	event := EventPlanCreated
	if replaced {
		event = EventPlanReplaced
	}
	e.recordEvent(ctx, event, targetID, patch.PlanID, opts.Actor,
		fmt.Sprintf("%s planned", plural(len(patch.Actions), "action")))
	e.metrics.RecordPlanCreated(len(patch.Actions), patch.ContainsDestructive)

	span.SetAttributes(
		telemetry.AttrPlanID.String(patch.PlanID),
		telemetry.AttrActionCount.Int(len(patch.Actions)),
		telemetry.AttrDestructive.Bool(patch.ContainsDestructive),
	)
	telemetry.RecordSuccess(span)

	logger.Info().
		Str("plan_id", patch.PlanID).
		Int("actions", len(patch.Actions)).
		Bool("destructive", patch.ContainsDestructive).
		Bool("replaced", replaced).
		Msg("plan stored")

	return &PlanResult{
		PlanID:              patch.PlanID,
		TargetID:            targetID,
		Summary:             RenderSummary(targetID, patch.Actions),
		Code:                code,
		ContainsDestructive: patch.ContainsDestructive,
		ExpiresAt:           patch.ExpiresAt(e.ttl),
		ActionCount:         len(patch.Actions),
		Warnings:            res.Warnings,
		PolicyWarnings:      policyWarnings,
		Replaced:            replaced,
	}, nil
}

// Apply confirms and executes the target's pending patch. The gates are
// checked in order: a patch exists, it has not expired, the code matches
// and destructive actions are allowed. A patch that passes every gate is
// removed before execution, so it can run at most once.
func (e *Engine) Apply(ctx context.Context, targetID, code string, opts ApplyOptions) (*ApplyResult, error) {
	unlock := e.locks.lock(targetID)
	defer unlock()

	logger := e.logger.With().Str("target_id", targetID).Logger()

	patch, err := e.checkGates(ctx, targetID, code, opts)
	if err != nil {
		var gateErr *EngineError
		if errors.As(err, &gateErr) && gateErr.Class == ErrorClassGate {
			logger.Info().Str("gate", gateErr.Code).Msg("apply rejected")
			e.metrics.RecordGateRejection(gateName(gateErr.Code))
			e.recordEvent(ctx, EventApplyRejected, targetID, "", opts.Actor, gateErr.Message)
		}
		return nil, err
	}

	ctx, span := e.tracer.StartApplySpan(ctx, targetID, patch.PlanID)
	defer span.End()
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.With().Str("trace_id", traceID).Logger()
	}

	g, err := e.graphs.Graph(ctx, targetID)
	if err != nil {
		err = NewInternalError(ErrCodeTargetUnavailable, "cannot reach target", err).WithTarget(targetID)
		telemetry.RecordError(span, err)
		return nil, err
	}

	consumed, err := e.store.Consume(ctx, targetID, patch.PlanID)
	if err != nil {
		err = NewInternalError(ErrCodeStore, "failed to consume pending patch", err).WithTarget(targetID)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !consumed {
		// Another process replaced, cancelled or applied the plan after the gates passed.
		err := NewGateError(ErrCodePlanReplaced, "pending patch changed before it could be applied; check status").
			WithTarget(targetID).
			WithDetail("plan_id", patch.PlanID)
		logger.Info().Str("gate", err.Code).Str("plan_id", patch.PlanID).Msg("apply rejected")
		e.metrics.RecordGateRejection(gateName(err.Code))
		e.recordEvent(ctx, EventApplyRejected, targetID, patch.PlanID, opts.Actor, err.Message)
		telemetry.RecordError(span, err)
		return nil, err
	}

	reason := opts.Reason
	if reason == "" {
		reason = "graphpatch " + patch.PlanID
	}

	result := &ApplyResult{
		RunID:     uuid.New().String(),
		PlanID:    patch.PlanID,
		TargetID:  targetID,
		Actor:     opts.Actor,
		Reason:    reason,
		StartedAt: e.clock.Now(),
	}
	logger = logger.With().Str("plan_id", patch.PlanID).Str("run_id", result.RunID).Logger()
	logger.Info().Int("actions", len(patch.Actions)).Msg("applying patch")

	timer := telemetry.NewTimer()
	result.Results = e.executor.Execute(ctx, g, patch.Actions, handlers.Context{
		TargetID: targetID,
		PlanID:   patch.PlanID,
		Reason:   reason,
		Actor:    opts.Actor,
	})
	result.CompletedAt = e.clock.Now()

	for _, r := range result.Results {
		if r.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}
	result.Status = statusOf(result.SuccessCount, result.FailureCount)

	e.metrics.RecordApply(string(result.Status), timer.Duration())
	span.SetAttributes(
		telemetry.AttrRunID.String(result.RunID),
		telemetry.AttrRunStatus.String(string(result.Status)),
	)
	if result.FailureCount > 0 {
		telemetry.RecordError(span, fmt.Errorf("%d of %d actions failed", result.FailureCount, len(result.Results)))
	} else {
		telemetry.RecordSuccess(span)
	}

	// The run already happened; history failures are logged, not returned.
	if e.recorder != nil {
		if err := e.recorder.RecordApply(context.WithoutCancel(ctx), result); err != nil {
			logger.Error().Err(err).Msg("failed to record apply")
		}
	}
	e.recordEvent(ctx, EventApplyCompleted, targetID, patch.PlanID, opts.Actor,
		fmt.Sprintf("%d succeeded, %d failed", result.SuccessCount, result.FailureCount))

	logger.Info().
		Str("status", string(result.Status)).
		Int("succeeded", result.SuccessCount).
		Int("failed", result.FailureCount).
		Msg("patch applied")

	return result, nil
}

// checkGates returns the pending patch when every apply gate passes. It must
// be called with the target lock held.
func (e *Engine) checkGates(ctx context.Context, targetID, code string, opts ApplyOptions) (*PendingPatch, error) {
	patch, err := e.store.Get(ctx, targetID)
	if errors.Is(err, ErrPatchNotFound) {
		return nil, NewGateError(ErrCodeNoPendingPatch, "no pending patch for this target; run plan first").WithTarget(targetID)
	}
	if err != nil {
		return nil, NewInternalError(ErrCodeStore, "failed to load pending patch", err).WithTarget(targetID)
	}

	if patch.Expired(e.clock.Now(), e.ttl) {
		if _, err := e.store.Consume(ctx, targetID, patch.PlanID); err != nil {
			return nil, NewInternalError(ErrCodeStore, "failed to discard expired patch", err).WithTarget(targetID)
		}
		e.metrics.RecordPatchesExpired(1)
		e.recordEvent(ctx, EventPlanExpired, targetID, patch.PlanID, opts.Actor, "expired at apply")
		return nil, NewGateError(ErrCodePatchExpired,
			fmt.Sprintf("pending patch expired after %s; plan again", e.ttl)).
			WithTarget(targetID).
			WithDetail("plan_id", patch.PlanID).
			WithDetail("expired_at", patch.ExpiresAt(e.ttl))
	}

	if !codesMatch(patch.Code, code) {
		return nil, NewGateError(ErrCodeInvalidCode, "confirmation code does not match").WithTarget(targetID)
	}

	if patch.ContainsDestructive && !opts.AllowDestructive {
		return nil, NewGateError(ErrCodeDestructiveBlocked,
			"patch contains destructive actions; confirm with allow-destructive").WithTarget(targetID)
	}

	return patch, nil
}

// Cancel discards the target's pending patch. It reports whether there was one.
func (e *Engine) Cancel(ctx context.Context, targetID, actor string) (bool, error) {
	unlock := e.locks.lock(targetID)
	defer unlock()

	patch, err := e.store.Get(ctx, targetID)
	if errors.Is(err, ErrPatchNotFound) {
		return false, nil
	}
	if err != nil {
		return false, NewInternalError(ErrCodeStore, "failed to load pending patch", err).WithTarget(targetID)
	}
	cancelled, err := e.store.Consume(ctx, targetID, patch.PlanID)
	if err != nil {
		return false, NewInternalError(ErrCodeStore, "failed to cancel pending patch", err).WithTarget(targetID)
	}
	if !cancelled {
		return false, nil
	}

	e.recordEvent(ctx, EventPlanCancelled, targetID, patch.PlanID, actor, "cancelled")
	e.logger.Info().Str("target_id", targetID).Str("plan_id", patch.PlanID).Msg("pending patch cancelled")
	return true, nil
}

// Status describes the target's pending patch without changing it.
func (e *Engine) Status(ctx context.Context, targetID string) (*PatchStatus, error) {
	patch, err := e.store.Get(ctx, targetID)
	if errors.Is(err, ErrPatchNotFound) {
		return nil, NewGateError(ErrCodeNoPendingPatch, "no pending patch for this target").WithTarget(targetID)
	}
	if err != nil {
		return nil, NewInternalError(ErrCodeStore, "failed to load pending patch", err).WithTarget(targetID)
	}
	return &PatchStatus{
		Patch:     patch,
		ExpiresAt: patch.ExpiresAt(e.ttl),
		Expired:   patch.Expired(e.clock.Now(), e.ttl),
	}, nil
}

// ReloadRegistry re-reads the operation map. On failure the previous table
// stays active.
func (e *Engine) ReloadRegistry(ctx context.Context) error {
	if err := e.registry.Reload(ctx); err != nil {
		e.metrics.RecordRegistryReload("failure", 0)
		e.recordEvent(ctx, EventRegistryRejects, "", "", "", err.Error())
		return newError(ErrorClassInternal, ErrCodeRegistry, "operation map rejected", err)
	}
	table := e.registry.Snapshot()
	e.metrics.RecordRegistryReload("success", table.Len())
	e.recordEvent(ctx, EventRegistryReload, "", "", "",
		fmt.Sprintf("%s loaded from %s", plural(table.Len(), "operation"), table.Source()))
	return nil
}

// Sweep removes expired patches and returns how many were dropped. Apply
// checks expiry on its own, so sweeping only frees storage.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	removed, err := e.store.DeleteExpired(ctx, e.clock.Now().Add(-e.ttl))
	if err != nil {
		return 0, NewInternalError(ErrCodeStore, "failed to sweep expired patches", err)
	}
	for _, p := range removed {
		e.recordEvent(ctx, EventPlanExpired, p.TargetID, p.PlanID, "", "expired")
	}
	e.metrics.RecordPatchesExpired(len(removed))
	return len(removed), nil
}

// StartReaper sweeps expired patches every interval until ctx is done.
func (e *Engine) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = e.ttl / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := e.Sweep(ctx)
				if err != nil {
					e.logger.Warn().Err(err).Msg("sweep failed")
					continue
				}
				if n > 0 {
					e.logger.Debug().Int("removed", n).Msg("swept expired patches")
				}
			}
		}
	}()
}

func (e *Engine) recordEvent(ctx context.Context, typ EventType, targetID, planID, actor, message string) {
	if e.recorder == nil {
		return
	}
	event := Event{
		Type:      typ,
		TargetID:  targetID,
		PlanID:    planID,
		Actor:     actor,
		Message:   message,
		Timestamp: e.clock.Now(),
	}
	if err := e.recorder.RecordEvent(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn().Err(err).Str("event", string(typ)).Msg("failed to record audit event")
	}
}

func capDiagnostics(diags []script.Diagnostic, limit int) []script.Diagnostic {
	if limit <= 0 || len(diags) <= limit {
		return diags
	}
	return diags[:limit]
}
