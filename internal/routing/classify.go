package routing

import (
	"context"

	"voiceline/internal/calls"
	"voiceline/internal/lines"
	"voiceline/internal/telephony"
)

// DirectionUnknown means neither side of the call is an active owned line.
const DirectionUnknown calls.Direction = ""

// Classification is the re-derived shape of a call. The carrier's direction
// hint is recorded but never used.
type Classification struct {
	Direction calls.Direction
	From      string
	To        string
	Line      lines.Line
	Hint      string
}

// endpoint picks the first value that normalizes to E.164. Browser
// identities (client:...) do not, so the Caller/Called fallback applies.
func endpoint(primary, fallback string) string {
	if n, ok := telephony.NormalizeE164(primary); ok {
		return n
	}
	if n, ok := telephony.NormalizeE164(fallback); ok {
		return n
	}
	return ""
}

// Classify decides direction from line ownership: an owned "from" calling
// a number that is not an owned line is outbound; an owned "to" is inbound.
func (r *Router) Classify(ctx context.Context, ev telephony.CallEvent) (Classification, error) {
	c := Classification{
		From: endpoint(ev.From, ev.Caller),
		To:   endpoint(ev.To, ev.Called),
		Hint: ev.DirectionHint,
	}

	var fromLine, toLine lines.Line
	var fromOwned, toOwned bool
	var err error
	if c.From != "" {
		if fromLine, fromOwned, err = r.lines.FindActiveByNumber(ctx, c.From); err != nil {
			return Classification{}, err
		}
	}
	if c.To != "" {
		if toLine, toOwned, err = r.lines.FindActiveByNumber(ctx, c.To); err != nil {
			return Classification{}, err
		}
	}

	switch {
	case fromOwned && !toOwned && c.To != "":
		c.Direction = calls.DirectionOutbound
		c.Line = fromLine
	case toOwned:
		c.Direction = calls.DirectionInbound
		c.Line = toLine
	default:
		c.Direction = DirectionUnknown
	}
	return c, nil
}
