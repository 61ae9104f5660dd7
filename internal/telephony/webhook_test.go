package telephony

import (
	"errors"
	"net/url"
	"testing"

	"voiceline/internal/calls"
)

func TestParseCallEvent_RequiresIdentity(t *testing.T) {
	if _, err := ParseCallEvent(url.Values{"From": {"+15550001111"}, "To": {"+15550002222"}}); !errors.Is(err, ErrMalformedWebhook) {
		t.Fatalf("expected malformed, got %v", err)
	}
	ev, err := ParseCallEvent(url.Values{
		"CallSid":   {"CA1"},
		"From":      {"client:agent"},
		"Caller":    {"client:agent"},
		"To":        {"+15550002222"},
		"Direction": {"inbound"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.CallID != "CA1" || ev.DirectionHint != "inbound" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestParseStatusEvent_ChildLegMapsToParent(t *testing.T) {
	ev, err := ParseStatusEvent(url.Values{
		"CallSid":       {"CAchild"},
		"ParentCallSid": {"CAparent"},
		"CallStatus":    {"in-progress"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.CallID != "CAparent" || ev.LegCallID != "CAchild" || ev.Status != calls.StatusAnswered {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Duration != nil {
		t.Fatalf("expected no duration on in-progress")
	}
}

func TestParseStatusEvent_TerminalWithDurationAndPrice(t *testing.T) {
	ev, err := ParseStatusEvent(url.Values{
		"CallSid":      {"CA1"},
		"CallStatus":   {"completed"},
		"CallDuration": {"61"},
		"Price":        {"-0.0085"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	u := ev.Update()
	if *u.Status != calls.StatusCompleted || *u.DurationSeconds != 61 || u.Price.String() != "-0.0085" {
		t.Fatalf("unexpected update %+v", u)
	}
}

func TestParseStatusEvent_RejectsUnknownShapes(t *testing.T) {
	bad := []url.Values{
		{"CallStatus": {"completed"}},
		{"CallSid": {"CA1"}, "CallStatus": {"teleported"}},
		{"CallSid": {"CA1"}, "CallStatus": {"completed"}, "CallDuration": {"abc"}},
		{"CallSid": {"CA1"}, "CallStatus": {"completed"}, "Price": {"free"}},
	}
	for _, v := range bad {
		if _, err := ParseStatusEvent(v); !errors.Is(err, ErrMalformedWebhook) {
			t.Fatalf("expected malformed for %v, got %v", v, err)
		}
	}
}

func TestParseStatusEvent_CanceledIsNoAnswer(t *testing.T) {
	ev, err := ParseStatusEvent(url.Values{"CallSid": {"CA1"}, "CallStatus": {"canceled"}})
	if err != nil || ev.Status != calls.StatusNoAnswer {
		t.Fatalf("expected no_answer, got %+v (%v)", ev, err)
	}
}

func TestParseRecordingEvent(t *testing.T) {
	ev, err := ParseRecordingEvent(url.Values{
		"CallSid":           {"CA123"},
		"RecordingSid":      {"RE1"},
		"RecordingUrl":      {"https://api.example.com/RE1"},
		"RecordingDuration": {"30"},
		"RecordingChannels": {"2"},
		"RecordingStatus":   {"completed"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	u := ev.Update()
	if u.CallID != "CA123" || u.Recording == nil || u.Recording.Channels != 2 || u.Recording.DurationSeconds != 30 {
		t.Fatalf("unexpected update %+v", u)
	}
	if u.Status != nil {
		t.Fatalf("recording event must not touch status")
	}

	if _, err := ParseRecordingEvent(url.Values{"CallSid": {"CA123"}}); !errors.Is(err, ErrMalformedWebhook) {
		t.Fatalf("expected malformed, got %v", err)
	}
}
