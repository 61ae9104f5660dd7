package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"voiceline/internal/apperr"
	"voiceline/internal/audio"
	"voiceline/internal/routing"
	"voiceline/internal/telephony"
	"voiceline/internal/whisper"
	"voiceline/pkg/logger"

	"github.com/gin-gonic/gin"
)

const twimlContentType = "text/xml; charset=utf-8"

// Webhooks are the public carrier callbacks. They never answer a call
// webhook with an error body: every failure degrades to the least-bad valid
// TwiML, because the carrier has no other way to learn the outcome.
type Webhooks struct {
	Router    *routing.Router
	Announcer *whisper.Announcer
	Assets    *audio.AssetService
}

func writeTwiML(c *gin.Context, body string) {
	c.Data(http.StatusOK, twimlContentType, []byte(body))
}

// RecoverWithTwiML turns a panic in a call webhook into fallback TwiML so the
// carrier still receives a playable instruction. It must sit inside any
// generic recovery middleware.
func RecoverWithTwiML(fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logger.FromGin(c).Error("call webhook panicked, serving fallback", "panic", p, "path", c.FullPath())
				if !c.Writer.Written() {
					writeTwiML(c, fallback)
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// Incoming answers the call-initiation webhook with a routing instruction.
func (w Webhooks) Incoming(c *gin.Context) {
	log := logger.FromGin(c)
	if err := c.Request.ParseForm(); err != nil {
		log.Warn("call webhook unreadable, apologising", "err", err)
		writeTwiML(c, telephony.ApologyTwiML)
		return
	}
	ev, err := telephony.ParseCallEvent(c.Request.PostForm)
	if err != nil {
		log.Warn("call webhook malformed, apologising", "err", err)
		writeTwiML(c, telephony.ApologyTwiML)
		return
	}

	ctx := logger.WithCall(c.Request.Context(), ev.CallID)
	d := w.Router.Route(ctx, ev)
	body, err := telephony.Render(d.Instruction)
	if err != nil {
		logger.From(ctx).Error("instruction render failed, apologising", "action", d.Instruction.Action, "err", err)
		body = telephony.ApologyTwiML
	}
	writeTwiML(c, body)
}

// Status merges a call-progress callback. Redeliveries are harmless, so an
// internal failure answers 500 and lets the carrier retry.
func (w Webhooks) Status(c *gin.Context) {
	log := logger.FromGin(c)
	if err := c.Request.ParseForm(); err != nil {
		log.Warn("status webhook unreadable", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}
	ev, err := telephony.ParseStatusEvent(c.Request.PostForm)
	if err != nil {
		log.Warn("status webhook malformed", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := logger.WithCall(c.Request.Context(), ev.CallID)
	if err := w.Router.HandleStatus(ctx, ev); err != nil {
		logger.From(ctx).Error("status merge failed", "status", ev.Status, "leg_call_id", ev.LegCallID, "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

// Recording merges a recording-ready callback.
func (w Webhooks) Recording(c *gin.Context) {
	log := logger.FromGin(c)
	if err := c.Request.ParseForm(); err != nil {
		log.Warn("recording webhook unreadable", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}
	ev, err := telephony.ParseRecordingEvent(c.Request.PostForm)
	if err != nil {
		log.Warn("recording webhook malformed", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := logger.WithCall(c.Request.Context(), ev.CallID)
	if err := w.Router.HandleRecording(ctx, ev); err != nil {
		logger.From(ctx).Error("recording merge failed", "recording_id", ev.RecordingID, "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

// Whisper answers the callee-leg fetch. line_id and caller come from the
// query string the router put on the <Number url>, or the form body.
func (w Webhooks) Whisper(c *gin.Context) {
	log := logger.FromGin(c)
	if err := c.Request.ParseForm(); err != nil {
		log.Warn("whisper webhook unreadable, pausing", "err", err)
		writeTwiML(c, telephony.SilentPauseTwiML)
		return
	}
	lineID := c.Request.Form.Get("line_id")
	caller := c.Request.Form.Get("caller")

	ctx := logger.WithCall(c.Request.Context(), c.Request.Form.Get("ParentCallSid"))
	p := w.Announcer.Announce(ctx, lineID, caller)
	body, err := telephony.RenderWhisper(p)
	if err != nil {
		logger.From(ctx).Error("whisper render failed, pausing", "line_id", lineID, "kind", p.Kind, "err", err)
		body = telephony.SilentPauseTwiML
	}
	writeTwiML(c, body)
}

// WhisperAudio serves a stored whisper clip by its unguessable id.
func (w Webhooks) WhisperAudio(c *gin.Context) {
	a, data, err := w.Assets.Open(c.Request.Context(), c.Param("asset_id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		logger.FromGin(c).Error("whisper audio fetch failed", "asset_id", c.Param("asset_id"), "err", err)
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Header("Cache-Control", "public, max-age=86400, immutable")
	c.Data(http.StatusOK, a.MimeType, data)
}

// RequireCarrierSignature rejects webhook requests whose signature does not
// match. The signed URL is the public base URL plus the request URI, since
// the carrier signs the address it called rather than what the proxy forwards.
func RequireCarrierSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		fullURL := publicBaseURL + c.Request.URL.RequestURI()
		sig := c.GetHeader(telephony.SignatureHeader)
		if !telephony.ValidateSignature(authToken, fullURL, c.Request.PostForm, sig) {
			logger.FromGin(c).Warn("webhook signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
