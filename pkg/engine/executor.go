package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/graphpatch/pkg/graph"
	"github.com/openfroyo/graphpatch/pkg/handlers"
	"github.com/openfroyo/graphpatch/pkg/script"
	"github.com/openfroyo/graphpatch/pkg/telemetry"
)

// HandlerLookup resolves handler IDs at execution time.
type HandlerLookup interface {
	Lookup(id string) (*handlers.Handler, bool)
}

// Executor runs the actions of a patch one after another. A failing or
// panicking action is recorded and the batch continues.
type Executor struct {
	handlers HandlerLookup
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	clock    Clock
}

// NewExecutor creates an executor over the given handlers.
func NewExecutor(lookup HandlerLookup, logger zerolog.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Executor {
	return &Executor{
		handlers: lookup,
		logger:   logger.With().Str("component", "executor").Logger(),
		metrics:  metrics,
		tracer:   tracer,
		clock:    systemClock{},
	}
}

// Execute runs actions in order against g and returns one result per action.
// Handlers run on a context that is never cancelled, so a caller going away
// cannot stop a batch half way.
func (x *Executor) Execute(ctx context.Context, g graph.API, actions []script.Action, hc handlers.Context) []ActionResult {
	runCtx := context.WithoutCancel(ctx)
	results := make([]ActionResult, 0, len(actions))

	for _, action := range actions {
		res := x.runAction(runCtx, g, action, hc)

		status := "succeeded"
		event := x.logger.Debug()
		if !res.Success {
			status = "failed"
			event = x.logger.Warn().Str("error", res.Error)
		}
		event.
			Int("line", res.Line).
			Str("handler", res.HandlerID).
			Bool("changed", res.Changed).
			Str("affected_id", res.AffectedID).
			Dur("duration", res.Duration).
			Msg("action " + status)
		x.metrics.RecordAction(res.HandlerID, status, res.Duration)

		results = append(results, res)
	}
	return results
}

// runAction executes a single action and converts every failure mode,
// including panics, into a failed result.
func (x *Executor) runAction(ctx context.Context, g graph.API, action script.Action, hc handlers.Context) (res ActionResult) {
	res = ActionResult{Line: action.Line, HandlerID: action.HandlerID}
	start := x.clock.Now()

	ctx, span := x.tracer.StartActionSpan(ctx, action.HandlerID, action.Line)
	defer func() {
		if r := recover(); r != nil {
			err := NewRuntimeError(ErrCodeHandlerPanic, "handler panicked", fmt.Errorf("%v", r)).
				WithHandler(action.HandlerID).
				WithLine(action.Line)
			res.Success = false
			res.Changed = false
			res.Error = fmt.Sprintf("handler panicked: %v", r)
			x.logger.Error().Interface("panic", r).Str("handler", action.HandlerID).Int("line", action.Line).Msg("recovered handler panic")
			x.metrics.RecordError(string(err.Class), err.Code)
			span.SetAttributes(telemetry.AttrErrorClass.String(string(err.Class)), telemetry.AttrErrorCode.String(err.Code))
			telemetry.RecordError(span, err)
		}
		res.Duration = x.clock.Now().Sub(start)
		span.End()
	}()

	outcome, err := x.invoke(ctx, g, action, hc)
	if err != nil {
		res.Error = describeFailure(err)
		var engineErr *EngineError
		if errors.As(err, &engineErr) {
			x.metrics.RecordError(string(engineErr.Class), engineErr.Code)
			span.SetAttributes(
				telemetry.AttrErrorClass.String(string(engineErr.Class)),
				telemetry.AttrErrorCode.String(engineErr.Code),
			)
		}
		telemetry.RecordError(span, err)
		return res
	}

	res.Success = true
	res.Changed = outcome.Changed
	res.AffectedID = outcome.AffectedID
	span.SetAttributes(
		telemetry.AttrChanged.Bool(outcome.Changed),
		telemetry.AttrAffectedID.String(outcome.AffectedID),
	)
	telemetry.RecordSuccess(span)
	return res
}

func (x *Executor) invoke(ctx context.Context, g graph.API, action script.Action, hc handlers.Context) (handlers.Outcome, error) {
	h, ok := x.handlers.Lookup(action.HandlerID)
	if !ok {
		return handlers.Outcome{}, newError(ErrorClassHandlerMissing, ErrCodeHandlerUnknown, "handler unknown", nil).
			WithHandler(action.HandlerID).
			WithLine(action.Line)
	}

	args, err := h.Bind(action.Arguments)
	if err != nil {
		return handlers.Outcome{}, NewRuntimeError(ErrCodeInvalidArguments, "invalid arguments", err).
			WithHandler(action.HandlerID).
			WithLine(action.Line)
	}

	outcome, err := h.Run(ctx, g, args, hc)
	if err != nil {
		return handlers.Outcome{}, NewRuntimeError(ErrCodeHandlerFailed, "handler failed", err).
			WithHandler(action.HandlerID).
			WithLine(action.Line)
	}
	return outcome, nil
}

// describeFailure produces the message stored on a failed ActionResult.
func describeFailure(err error) string {
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		return err.Error()
	}
	switch {
	case engineErr.Code == ErrCodeHandlerUnknown:
		return "handler unknown"
	case engineErr.Err != nil:
		return engineErr.Err.Error()
	default:
		return engineErr.Message
	}
}
