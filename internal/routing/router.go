package routing

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"voiceline/internal/apperr"
	"voiceline/internal/billing"
	"voiceline/internal/calls"
	"voiceline/internal/forwarding"
	"voiceline/internal/lines"
	"voiceline/internal/telephony"
	"voiceline/pkg/logger"
)

// LineDirectory finds the active line holding a number.
type LineDirectory interface {
	FindActiveByNumber(ctx context.Context, number string) (lines.Line, bool, error)
}

// Meter is the billing surface the router needs.
type Meter interface {
	AssertFundable(ctx context.Context, accountID string) error
	Settle(ctx context.Context, callID string, status calls.Status, durationSeconds int) (billing.Settlement, bool, error)
}

type RuleResolver interface {
	Resolve(ctx context.Context, lineID string) (forwarding.Rule, bool, error)
}

type Ledger interface {
	Upsert(ctx context.Context, u calls.Update) (calls.Record, error)
}

type DenialAuditor interface {
	LogCallDenied(ctx context.Context, accountID, lineID, callID, reason string)
}

type Options struct {
	PublicBaseURL string
	// Budget bounds one Route call. Zero means no deadline.
	Budget time.Duration
	// Record enables dual-channel recording on connected calls.
	Record bool
}

// Router answers carrier webhooks for the engine.
//
// Priority on call initiation:
//  1. Classify direction from line ownership
//  2. Outbound: billing gate, ledger row, connect
//  3. Inbound: forwarding rule, ledger row, bridge with whisper
//  4. Anything else: static greeting
//
// Every failure becomes an apology instruction; Route never returns an error.
type Router struct {
	lines  LineDirectory
	meter  Meter
	rules  RuleResolver
	ledger Ledger
	audit  DenialAuditor
	opts   Options
}

func NewRouter(directory LineDirectory, meter Meter, rules RuleResolver, ledger Ledger, audit DenialAuditor, opts Options) *Router {
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Router{lines: directory, meter: meter, rules: rules, ledger: ledger, audit: audit, opts: opts}
}

func (r *Router) StatusCallbackURL() string    { return r.opts.PublicBaseURL + "/webhooks/voice/status" }
func (r *Router) RecordingCallbackURL() string { return r.opts.PublicBaseURL + "/webhooks/voice/recording" }

// WhisperURL is fetched by the callee leg only, before it is joined.
func (r *Router) WhisperURL(lineID, caller string) string {
	q := url.Values{}
	q.Set("line_id", lineID)
	if caller != "" {
		q.Set("caller", caller)
	}
	return r.opts.PublicBaseURL + "/webhooks/voice/whisper?" + q.Encode()
}

func (r *Router) Route(ctx context.Context, ev telephony.CallEvent) Decision {
	ctx = logger.WithCall(ctx, ev.CallID)
	log := logger.From(ctx)
	if r.opts.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Budget)
		defer cancel()
	}

	c, err := r.Classify(ctx, ev)
	if err != nil {
		log.Error("classify failed, apologising", "err", err)
		return apology()
	}
	if c.Hint != "" && !strings.HasPrefix(c.Hint, string(c.Direction)) && c.Direction != DirectionUnknown {
		log.Info("carrier direction hint overridden", "hint", c.Hint, "direction", c.Direction)
	}

	var d Decision
	switch c.Direction {
	case calls.DirectionOutbound:
		d, err = r.routeOutbound(ctx, ev, c)
	case calls.DirectionInbound:
		d, err = r.routeInbound(ctx, ev, c)
	default:
		d = Decision{
			Instruction: telephony.CallInstruction{Action: telephony.ActionGreeting},
			Reason:      ReasonUnknownNumber,
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Error("route failed, apologising", "direction", c.Direction, "err", err)
		return apology()
	}
	log.Info("call routed", "direction", d.Direction, "action", d.Instruction.Action, "reason", d.Reason, "line_id", d.LineID)
	return d
}

func (r *Router) routeOutbound(ctx context.Context, ev telephony.CallEvent, c Classification) (Decision, error) {
	d := Decision{AccountID: c.Line.AccountID, LineID: c.Line.ID, Direction: calls.DirectionOutbound}

	if err := r.meter.AssertFundable(ctx, c.Line.AccountID); err != nil {
		if !errors.Is(err, apperr.ErrInsufficientFunds) {
			return Decision{}, err
		}
		// No ledger row: the leg is never attempted.
		if r.audit != nil {
			r.audit.LogCallDenied(ctx, c.Line.AccountID, c.Line.ID, ev.CallID, ReasonInsufficientFunds)
		}
		d.Reason = ReasonInsufficientFunds
		d.Instruction = telephony.CallInstruction{Action: telephony.ActionDeny, Message: DenyInsufficientFunds}
		return d, nil
	}

	if err := r.open(ctx, ev.CallID, c, c.Line.Number, c.To); err != nil {
		return Decision{}, err
	}
	d.Reason = ReasonConnected
	d.Instruction = telephony.CallInstruction{
		Action:               telephony.ActionConnect,
		Dial:                 c.To,
		CallerID:             c.Line.Number,
		Record:               r.opts.Record,
		StatusCallbackURL:    r.StatusCallbackURL(),
		RecordingCallbackURL: r.RecordingCallbackURL(),
	}
	return d, nil
}

func (r *Router) routeInbound(ctx context.Context, ev telephony.CallEvent, c Classification) (Decision, error) {
	d := Decision{AccountID: c.Line.AccountID, LineID: c.Line.ID, Direction: calls.DirectionInbound}

	rule, found, err := r.rules.Resolve(ctx, c.Line.ID)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		d.Reason = ReasonNoRule
		d.Instruction = telephony.CallInstruction{Action: telephony.ActionGreeting}
		return d, nil
	}

	if err := r.open(ctx, ev.CallID, c, c.From, c.Line.Number); err != nil {
		return Decision{}, err
	}
	callerID := c.From
	if callerID == "" {
		callerID = c.Line.Number
	}
	d.Reason = ReasonBridged
	d.Instruction = telephony.CallInstruction{
		Action:               telephony.ActionBridge,
		Dial:                 rule.Destination,
		CallerID:             callerID,
		WhisperURL:           r.WhisperURL(c.Line.ID, c.From),
		RingTimeoutSeconds:   rule.RingTimeoutSeconds,
		Record:               r.opts.Record,
		StatusCallbackURL:    r.StatusCallbackURL(),
		RecordingCallbackURL: r.RecordingCallbackURL(),
	}
	return d, nil
}

// open writes the initiating ledger merge. If status callbacks already
// drove the row terminal, settlement runs now since it was skipped then.
func (r *Router) open(ctx context.Context, callID string, c Classification, from, to string) error {
	rec, err := r.ledger.Upsert(ctx, calls.Update{
		CallID:    callID,
		AccountID: calls.Ptr(c.Line.AccountID),
		LineID:    calls.Ptr(c.Line.ID),
		From:      calls.Ptr(from),
		To:        calls.Ptr(to),
		Direction: calls.Ptr(c.Direction),
		Status:    calls.Ptr(calls.StatusInitiated),
	})
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		r.settle(ctx, rec)
	}
	return nil
}

// HandleStatus merges a call-progress callback and settles terminal calls.
func (r *Router) HandleStatus(ctx context.Context, ev telephony.StatusEvent) error {
	ctx = logger.WithCall(ctx, ev.CallID)
	rec, err := r.ledger.Upsert(ctx, ev.Update())
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		r.settle(ctx, rec)
	}
	return nil
}

// HandleRecording merges a recording-ready callback.
func (r *Router) HandleRecording(ctx context.Context, ev telephony.RecordingEvent) error {
	ctx = logger.WithCall(ctx, ev.CallID)
	_, err := r.ledger.Upsert(ctx, ev.Update())
	return err
}

// settle is best-effort: a failure is logged and the next terminal
// redelivery retries it.
func (r *Router) settle(ctx context.Context, rec calls.Record) {
	_, _, err := r.meter.Settle(ctx, rec.CallID, rec.Status, rec.DurationSeconds)
	switch {
	case errors.Is(err, billing.ErrNotSettleable):
		logger.From(ctx).Info("settlement deferred until the call is attributed", "status", rec.Status)
	case err != nil:
		logger.From(ctx).Error("settlement failed", "status", rec.Status, "err", err)
	}
}
