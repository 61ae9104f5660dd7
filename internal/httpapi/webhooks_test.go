package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"voiceline/internal/billing"
	"voiceline/internal/calls"
	"voiceline/internal/forwarding"
	"voiceline/internal/telephony"

	"github.com/gin-gonic/gin"
)

func signed(v url.Values, path string) http.Header {
	h := http.Header{}
	h.Set(telephony.SignatureHeader, telephony.ComputeSignature(authToken, baseURL+path, v))
	return h
}

func TestInboundCall_BridgesSettlesAndRecords(t *testing.T) {
	s := newServer(t, fundedAccount())
	line := s.acquire(t)
	if w := s.do(t, http.MethodPost, "/v1/lines/"+line.ID+"/forwarding", forwarding.CreateInput{Destination: forwardTo}); w.Code != http.StatusCreated {
		t.Fatalf("create rule: %d %s", w.Code, w.Body.String())
	}

	w := s.form(t, "/webhooks/voice/incoming", url.Values{
		"CallSid":   {"CA1"},
		"From":      {caller},
		"To":        {lineNumber},
		"Direction": {"inbound"},
	}, nil)
	body := w.Body.String()
	if w.Code != http.StatusOK || !strings.Contains(body, "<Dial") || !strings.Contains(body, forwardTo) {
		t.Fatalf("expected bridge, got %d %s", w.Code, body)
	}
	if !strings.Contains(body, baseURL+"/webhooks/voice/whisper?") {
		t.Fatalf("expected whisper url on the callee leg, got %s", body)
	}

	status := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}, "CallDuration": {"90"}}
	if w := s.form(t, "/webhooks/voice/status", status, signed(status, "/webhooks/voice/status")); w.Code != http.StatusNoContent {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	// Redelivery is absorbed.
	if w := s.form(t, "/webhooks/voice/status", status, signed(status, "/webhooks/voice/status")); w.Code != http.StatusNoContent {
		t.Fatalf("status redelivery: %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/v1/calls/CA1", nil)
	rec := decode[calls.Record](t, w)
	if rec.Status != calls.StatusCompleted || rec.DurationSeconds != 90 || rec.Direction != calls.DirectionInbound {
		t.Fatalf("unexpected ledger row %+v", rec)
	}

	w = s.do(t, http.MethodGet, "/v1/billing/time-remaining", nil)
	p := decode[billing.Projection](t, w)
	if p.Source != billing.ProjectionSourceFree || p.MinutesAvailable != 98 {
		t.Fatalf("expected 98 free minutes left after one 2-minute call, got %+v", p)
	}

	if w := s.do(t, http.MethodGet, "/v1/calls/CA1/recording", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before recording arrives, got %d", w.Code)
	}
	rv := url.Values{"CallSid": {"CA1"}, "RecordingSid": {"RE1"}, "RecordingUrl": {"https://api.example.com/RE1"}, "RecordingDuration": {"88"}}
	if w := s.form(t, "/webhooks/voice/recording", rv, nil); w.Code != http.StatusNoContent {
		t.Fatalf("recording: %d", w.Code)
	}
	w = s.do(t, http.MethodGet, "/v1/calls/CA1/recording", nil)
	recording := decode[calls.Recording](t, w)
	if recording.ID != "RE1" || recording.DurationSeconds != 88 {
		t.Fatalf("unexpected recording %+v", recording)
	}
}

func TestIncoming_UnknownNumberGreets(t *testing.T) {
	s := newServer(t, fundedAccount())

	w := s.form(t, "/webhooks/voice/incoming", url.Values{"CallSid": {"CA2"}, "From": {caller}, "To": {"+19995550000"}}, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), telephony.GreetingMessage) {
		t.Fatalf("expected greeting, got %d %s", w.Code, w.Body.String())
	}
}

func TestIncoming_MalformedPayloadApologises(t *testing.T) {
	s := newServer(t, fundedAccount())

	w := s.form(t, "/webhooks/voice/incoming", url.Values{"From": {caller}}, nil)
	if w.Code != http.StatusOK || w.Body.String() != telephony.ApologyTwiML {
		t.Fatalf("expected apology twiml, got %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
}

func TestStatus_RejectsBadSignature(t *testing.T) {
	s := newServer(t, fundedAccount())

	status := url.Values{"CallSid": {"CA3"}, "CallStatus": {"completed"}}
	h := http.Header{}
	h.Set(telephony.SignatureHeader, "forged")
	if w := s.form(t, "/webhooks/voice/status", status, h); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := s.form(t, "/webhooks/voice/status", status, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}
}

func TestStatus_MalformedIsBadRequest(t *testing.T) {
	s := newServer(t, fundedAccount())

	status := url.Values{"CallSid": {"CA4"}, "CallStatus": {"exploded"}}
	if w := s.form(t, "/webhooks/voice/status", status, signed(status, "/webhooks/voice/status")); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestIncoming_PanicServesApology(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	// A Webhooks without a router dereferences nil while routing.
	r.POST("/incoming", RecoverWithTwiML(telephony.ApologyTwiML), Webhooks{}.Incoming)

	s := &server{engine: r}
	w := s.form(t, "/incoming", url.Values{"CallSid": {"CA9"}, "From": {caller}, "To": {lineNumber}}, nil)
	if w.Code != http.StatusOK || w.Body.String() != telephony.ApologyTwiML {
		t.Fatalf("expected apology twiml after panic, got %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
}

func TestWhisper_PanicServesPause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whisper", RecoverWithTwiML(telephony.SilentPauseTwiML), func(c *gin.Context) { panic("boom") })

	s := &server{engine: r}
	w := s.do(t, http.MethodGet, "/whisper", nil)
	if w.Code != http.StatusOK || w.Body.String() != telephony.SilentPauseTwiML {
		t.Fatalf("expected pause twiml after panic, got %d %q", w.Code, w.Body.String())
	}
}
