package routing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"voiceline/internal/apperr"
	"voiceline/internal/billing"
	"voiceline/internal/calls"
	"voiceline/internal/forwarding"
	"voiceline/internal/lines"
	"voiceline/internal/pricing"
	"voiceline/internal/telephony"

	"github.com/shopspring/decimal"
)

const (
	lineNumber = "+12025550100"
	external   = "+13055550199"
	forwardTo  = "+14155550123"
)

type denials struct{ calls []string }

func (d *denials) LogCallDenied(ctx context.Context, accountID, lineID, callID, reason string) {
	d.calls = append(d.calls, callID+":"+reason)
}

type fixture struct {
	router *Router
	ledger *calls.Ledger
	store  *billing.MemoryStore
	rules  *forwarding.MemoryRepo
	audit  *denials
}

func newFixture(t *testing.T, acct billing.Account) *fixture {
	t.Helper()
	dir := lines.NewMemoryRepo(lines.Line{ID: "line-1", AccountID: "acct", Number: lineNumber, Active: true})
	ledger := calls.NewLedger(calls.NewMemoryRepo())
	store := billing.NewMemoryStore(acct)
	plan := pricing.Plan{
		FreeMinutesPerMonth: 100,
		PerMinuteRate:       decimal.RequireFromString("0.02"),
		MinimumBalance:      decimal.RequireFromString("0.10"),
		LineMonthlyCost:     decimal.RequireFromString("2.00"),
	}
	meter := billing.NewMeter(store, plan, ledger, ledger)
	rules := forwarding.NewMemoryRepo()
	resolver := forwarding.NewService(rules, nil, nil)
	f := &fixture{ledger: ledger, store: store, rules: rules, audit: &denials{}}
	f.router = NewRouter(dir, meter, resolver, ledger, f.audit, Options{
		PublicBaseURL: "https://voice.example.com",
		Budget:        time.Second,
		Record:        true,
	})
	return f
}

// funded has free minutes for the current month.
func funded() billing.Account {
	return billing.Account{ID: "acct", FreeMinutesRemaining: 100, FreeMinutesLastReset: time.Now().UTC()}
}

func broke() billing.Account {
	return billing.Account{ID: "acct", Balance: decimal.RequireFromString("0.05"), FreeMinutesLastReset: time.Now().UTC(), HasClaimedFreeLine: true}
}

func (f *fixture) addRule(t *testing.T, typ forwarding.RuleType, active bool) {
	t.Helper()
	err := f.rules.Create(context.Background(), forwarding.Rule{
		ID: "rule-1", AccountID: "acct", LineID: "line-1", Destination: forwardTo,
		Type: typ, RingTimeoutSeconds: 25, Active: active,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
}

func render(t *testing.T, d Decision) string {
	t.Helper()
	out, err := telephony.Render(d.Instruction)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return out
}

func TestRoute_OutboundDeniedCreatesNoLedgerRow(t *testing.T) {
	f := newFixture(t, broke())
	ctx := context.Background()

	d := f.router.Route(ctx, telephony.CallEvent{CallID: "CA1", From: lineNumber, To: external, DirectionHint: "outbound-api"})
	if d.Instruction.Action != telephony.ActionDeny || d.Reason != ReasonInsufficientFunds {
		t.Fatalf("expected deny, got %+v", d)
	}
	xml := render(t, d)
	if !strings.Contains(xml, "not have enough") || !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("expected spoken reason then hangup, got %s", xml)
	}
	if _, err := f.ledger.Get(ctx, "CA1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("denied call must not create a ledger row, got %v", err)
	}
	if len(f.audit.calls) != 1 || f.audit.calls[0] != "CA1:insufficient_funds" {
		t.Fatalf("expected denial audit, got %v", f.audit.calls)
	}
}

func TestRoute_OutboundConnects(t *testing.T) {
	f := newFixture(t, funded())
	ctx := context.Background()

	d := f.router.Route(ctx, telephony.CallEvent{CallID: "CA2", From: lineNumber, To: "(305) 555-0199"})
	in := d.Instruction
	if in.Action != telephony.ActionConnect || in.Dial != external || in.CallerID != lineNumber {
		t.Fatalf("unexpected instruction %+v", in)
	}
	if !in.Record || in.StatusCallbackURL != "https://voice.example.com/webhooks/voice/status" {
		t.Fatalf("expected recording and status callback, got %+v", in)
	}
	rec, err := f.ledger.Get(ctx, "CA2")
	if err != nil {
		t.Fatalf("ledger row: %v", err)
	}
	if rec.Status != calls.StatusInitiated || rec.Direction != calls.DirectionOutbound || rec.AccountID != "acct" || rec.To != external {
		t.Fatalf("unexpected ledger row %+v", rec)
	}
}

func TestRoute_MislabeledInboundFromOwnedLineIsOutbound(t *testing.T) {
	f := newFixture(t, funded())
	f.addRule(t, forwarding.RuleTypeAlways, true)

	// Browser-originated: From is the SDK identity, Caller carries the line.
	d := f.router.Route(context.Background(), telephony.CallEvent{
		CallID: "CA3", From: "client:agent", Caller: lineNumber, To: external, DirectionHint: "inbound",
	})
	if d.Direction != calls.DirectionOutbound || d.Instruction.Action != telephony.ActionConnect {
		t.Fatalf("expected outbound connect, got %+v", d)
	}
}

func TestRoute_InboundWithoutRuleGreets(t *testing.T) {
	f := newFixture(t, funded())
	ctx := context.Background()

	d := f.router.Route(ctx, telephony.CallEvent{CallID: "CA4", From: external, To: lineNumber, DirectionHint: "inbound"})
	if d.Instruction.Action != telephony.ActionGreeting || d.Reason != ReasonNoRule {
		t.Fatalf("expected greeting, got %+v", d)
	}
	if strings.Contains(render(t, d), "<Dial") {
		t.Fatalf("greeting must never bridge")
	}
	if _, err := f.ledger.Get(ctx, "CA4"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("greeting should not open a ledger row, got %v", err)
	}
}

func TestRoute_InboundInactiveRuleGreets(t *testing.T) {
	f := newFixture(t, funded())
	f.addRule(t, forwarding.RuleTypeAlways, false)
	d := f.router.Route(context.Background(), telephony.CallEvent{CallID: "CA5", From: external, To: lineNumber})
	if d.Instruction.Action != telephony.ActionGreeting {
		t.Fatalf("expected greeting for inactive rule, got %+v", d)
	}
}

func TestRoute_UnknownNumberGreets(t *testing.T) {
	f := newFixture(t, funded())
	d := f.router.Route(context.Background(), telephony.CallEvent{CallID: "CA6", From: external, To: "+16175550100"})
	if d.Instruction.Action != telephony.ActionGreeting || d.Reason != ReasonUnknownNumber {
		t.Fatalf("expected greeting, got %+v", d)
	}
}

func TestRoute_BusyRuleBridgesLikeAlways(t *testing.T) {
	f := newFixture(t, funded())
	f.addRule(t, forwarding.RuleTypeBusy, true)
	ctx := context.Background()

	d := f.router.Route(ctx, telephony.CallEvent{CallID: "CA7", From: external, To: lineNumber})
	in := d.Instruction
	if in.Action != telephony.ActionBridge || in.Dial != forwardTo || in.RingTimeoutSeconds != 25 {
		t.Fatalf("expected bridge to %s, got %+v", forwardTo, in)
	}
	if in.CallerID != external {
		t.Fatalf("expected caller id passthrough, got %q", in.CallerID)
	}

	xml := render(t, d)
	if strings.Count(xml, "/webhooks/voice/whisper") != 1 {
		t.Fatalf("expected exactly one whisper reference, got %s", xml)
	}
	if !strings.Contains(xml, `<Number url="https://voice.example.com/webhooks/voice/whisper?`) {
		t.Fatalf("whisper must be attached to the callee leg, got %s", xml)
	}
	if strings.Contains(xml, "<Say") || strings.Contains(xml, "<Play") {
		t.Fatalf("caller leg must hear ringback only, got %s", xml)
	}

	rec, err := f.ledger.Get(ctx, "CA7")
	if err != nil || rec.Direction != calls.DirectionInbound || rec.From != external {
		t.Fatalf("unexpected ledger row %+v, %v", rec, err)
	}
}

func TestHandleStatus_RedeliveryChargesOnce(t *testing.T) {
	acct := broke()
	acct.Balance = decimal.RequireFromString("5.00")
	f := newFixture(t, acct)
	ctx := context.Background()

	if d := f.router.Route(ctx, telephony.CallEvent{CallID: "CA8", From: lineNumber, To: external}); d.Instruction.Action != telephony.ActionConnect {
		t.Fatalf("expected connect, got %+v", d)
	}
	dur := 61
	ev := telephony.StatusEvent{CallID: "CA8", Status: calls.StatusCompleted, Duration: &dur}
	for i := 0; i < 3; i++ {
		if err := f.router.HandleStatus(ctx, ev); err != nil {
			t.Fatalf("status: %v", err)
		}
	}
	a, _ := f.store.GetAccount(ctx, "acct")
	if got := a.Balance.StringFixed(2); got != "4.96" {
		t.Fatalf("expected one 2-minute charge (4.96), got %s", got)
	}
}

func TestHandleStatus_TerminalBeforeInitiatedSettlesOnOpen(t *testing.T) {
	f := newFixture(t, funded())
	ctx := context.Background()

	dur := 125
	if err := f.router.HandleStatus(ctx, telephony.StatusEvent{CallID: "CA9", Status: calls.StatusCompleted, Duration: &dur}); err != nil {
		t.Fatalf("status: %v", err)
	}
	a, _ := f.store.GetAccount(ctx, "acct")
	if a.FreeMinutesRemaining != 100 {
		t.Fatalf("unattributed call must not settle yet")
	}

	f.router.Route(ctx, telephony.CallEvent{CallID: "CA9", From: lineNumber, To: external})
	rec, _ := f.ledger.Get(ctx, "CA9")
	if rec.Status != calls.StatusCompleted || rec.DurationSeconds != 125 || rec.AccountID != "acct" {
		t.Fatalf("unexpected merged row %+v", rec)
	}
	a, _ = f.store.GetAccount(ctx, "acct")
	if a.FreeMinutesRemaining != 97 {
		t.Fatalf("expected 3 free minutes consumed, got %d remaining", a.FreeMinutesRemaining)
	}
}

func TestHandleRecording_BeforeInitiatedKeepsBothEvents(t *testing.T) {
	f := newFixture(t, funded())
	ctx := context.Background()

	err := f.router.HandleRecording(ctx, telephony.RecordingEvent{
		CallID: "CA123", RecordingID: "RE1", URL: "https://api.example.com/RE1", DurationSeconds: 30, Channels: 2, Status: "completed",
	})
	if err != nil {
		t.Fatalf("recording: %v", err)
	}
	f.router.Route(ctx, telephony.CallEvent{CallID: "CA123", From: lineNumber, To: external})

	rec, _ := f.ledger.Get(ctx, "CA123")
	if rec.Recording == nil || rec.Recording.ID != "RE1" || rec.Recording.Channels != 2 {
		t.Fatalf("recording lost: %+v", rec.Recording)
	}
	if rec.Status != calls.StatusInitiated || rec.AccountID != "acct" {
		t.Fatalf("initiating fields lost: %+v", rec)
	}
}

type failingLedger struct{}

func (failingLedger) Upsert(ctx context.Context, u calls.Update) (calls.Record, error) {
	return calls.Record{}, errors.New("db down")
}

func TestRoute_InternalErrorApologises(t *testing.T) {
	f := newFixture(t, funded())
	f.router.ledger = failingLedger{}

	d := f.router.Route(context.Background(), telephony.CallEvent{CallID: "CA10", From: lineNumber, To: external})
	if d.Instruction.Action != telephony.ActionApology {
		t.Fatalf("expected apology, got %+v", d)
	}
	if xml := render(t, d); !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("apology must hang up, got %s", xml)
	}
}

type slowDirectory struct{}

func (slowDirectory) FindActiveByNumber(ctx context.Context, number string) (lines.Line, bool, error) {
	select {
	case <-time.After(time.Second):
		return lines.Line{}, false, nil
	case <-ctx.Done():
		return lines.Line{}, false, ctx.Err()
	}
}

func TestRoute_BudgetExceededApologises(t *testing.T) {
	f := newFixture(t, funded())
	f.router.lines = slowDirectory{}
	f.router.opts.Budget = 20 * time.Millisecond

	start := time.Now()
	d := f.router.Route(context.Background(), telephony.CallEvent{CallID: "CA11", From: external, To: lineNumber})
	if d.Instruction.Action != telephony.ActionApology {
		t.Fatalf("expected apology, got %+v", d)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("budget not enforced")
	}
}

func TestWhisperURL_EscapesCaller(t *testing.T) {
	f := newFixture(t, funded())
	got := f.router.WhisperURL("line-1", "+13055550199")
	if got != "https://voice.example.com/webhooks/voice/whisper?caller=%2B13055550199&line_id=line-1" {
		t.Fatalf("unexpected url %q", got)
	}
}
