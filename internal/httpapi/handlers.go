package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voiceline/internal/apperr"
	"voiceline/internal/audio"
	"voiceline/internal/audit"
	"voiceline/internal/auth"
	"voiceline/internal/billing"
	"voiceline/internal/calls"
	"voiceline/internal/forwarding"
	"voiceline/internal/lines"
	"voiceline/internal/reporting"
	"voiceline/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Handlers groups the management API handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Lines      *lines.Service
	Forwarding *forwarding.Service
	Ledger     *calls.Ledger
	Meter      *billing.Meter
	Assets     *audio.AssetService
	Reporting  *reporting.Service

	// MaxUploadBytes caps the whisper audio part of a multipart upload.
	MaxUploadBytes int64
}

// multipart envelope allowance on top of the audio part itself
const uploadOverheadBytes = 64 << 10

// accountScope reads the caller's account and tags the request context with
// the client IP for audit entries.
func accountScope(c *gin.Context) (string, bool) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return "", false
	}
	c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
	return accountID, true
}

// --- Lines ---

func (h Handlers) ListLines(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	out, err := h.Lines.List(c.Request.Context(), accountID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": out})
}

func (h Handlers) SearchNumbers(c *gin.Context) {
	if _, ok := accountScope(c); !ok {
		return
	}
	req := telephony.SearchNumbersRequest{
		CountryISO2: strings.ToUpper(c.Query("country")),
		AreaCode:    c.Query("area_code"),
		Contains:    c.Query("contains"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abortWithError(c, apperr.Invalid("limit", "must be a non-negative integer"))
			return
		}
		req.Limit = n
	}
	out, err := h.Lines.Search(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": out})
}

func (h Handlers) AcquireLine(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	var in lines.AcquireInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	line, err := h.Lines.Acquire(c.Request.Context(), accountID, in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

func (h Handlers) GetLine(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	line, err := h.Lines.Get(c.Request.Context(), accountID, c.Param("line_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (h Handlers) ReleaseLine(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	if err := h.Lines.Release(c.Request.Context(), accountID, c.Param("line_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Whisper ---

func (h Handlers) UpdateWhisper(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	var p lines.WhisperPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	line, err := h.Lines.UpdateWhisper(c.Request.Context(), accountID, c.Param("line_id"), p)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// UploadWhisperAudio accepts a multipart "file" part (WAV or MP3).
func (h Handlers) UploadWhisperAudio(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = audio.DefaultMaxInputBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+uploadOverheadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, apperr.Invalid("file", "exceeds upload limit"))
			return
		}
		abortWithError(c, apperr.Invalid("file", "multipart part \"file\" required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer f.Close()

	// One byte past the limit is enough for the transcoder to reject it.
	raw, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		abortWithError(c, err)
		return
	}

	asset, err := h.Assets.Upload(c.Request.Context(), accountID, c.Param("line_id"), raw)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

// --- Forwarding ---

func (h Handlers) GetForwarding(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	rule, err := h.Forwarding.Get(c.Request.Context(), accountID, c.Param("line_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h Handlers) CreateForwarding(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	var in forwarding.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	in.LineID = c.Param("line_id")
	rule, err := h.Forwarding.Create(c.Request.Context(), accountID, in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h Handlers) UpdateForwarding(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	var p forwarding.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rule, err := h.Forwarding.Update(c.Request.Context(), accountID, c.Param("line_id"), p)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h Handlers) DeleteForwarding(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	if err := h.Forwarding.Delete(c.Request.Context(), accountID, c.Param("line_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	v := &apperr.ValidationError{}
	f := calls.Filter{
		Since:        queryTime(c, v, "since"),
		Until:        queryTime(c, v, "until"),
		RecordedOnly: c.Query("recorded") == "true",
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			v.Add("limit", "must be a non-negative integer")
		}
		f.Limit = n
	}
	if err := v.OrNil(); err != nil {
		abortWithError(c, err)
		return
	}

	out, err := h.Ledger.List(c.Request.Context(), accountID, f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// ownedCall loads a call and hides rows belonging to other accounts.
func (h Handlers) ownedCall(c *gin.Context, accountID string) (calls.Record, bool) {
	rec, err := h.Ledger.Get(c.Request.Context(), c.Param("call_id"))
	if err == nil && rec.AccountID != accountID {
		err = apperr.ErrNotFound
	}
	if err != nil {
		abortWithError(c, err)
		return calls.Record{}, false
	}
	return rec, true
}

func (h Handlers) GetCall(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	rec, ok := h.ownedCall(c, accountID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) GetCallRecording(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	rec, ok := h.ownedCall(c, accountID)
	if !ok {
		return
	}
	if rec.Recording == nil {
		abortWithError(c, apperr.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, rec.Recording)
}

// --- Reports & billing ---

func (h Handlers) CallsSummary(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	v := &apperr.ValidationError{}
	req := reporting.CallsSummaryRequest{
		AccountID: accountID,
		Range:     reporting.TimeRange{From: queryTime(c, v, "from"), To: queryTime(c, v, "to")},
		Direction: calls.Direction(c.Query("direction")),
	}
	if err := v.OrNil(); err != nil {
		abortWithError(c, err)
		return
	}
	out, err := h.Reporting.CallsSummary(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SpendSummary(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	v := &apperr.ValidationError{}
	req := reporting.SpendSummaryRequest{
		AccountID: accountID,
		Range:     reporting.TimeRange{From: queryTime(c, v, "from"), To: queryTime(c, v, "to")},
	}
	if err := v.OrNil(); err != nil {
		abortWithError(c, err)
		return
	}
	out, err := h.Reporting.SpendSummary(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// TimeRemaining is display-only; it never gates a call.
func (h Handlers) TimeRemaining(c *gin.Context) {
	accountID, ok := accountScope(c)
	if !ok {
		return
	}
	p, err := h.Meter.TimeRemaining(c.Request.Context(), accountID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// queryTime parses an optional RFC 3339 query parameter. A bad value is
// recorded on v and the zero time returned.
func queryTime(c *gin.Context, v *apperr.ValidationError, key string) time.Time {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		v.Add(key, "must be an RFC 3339 timestamp")
		return time.Time{}
	}
	return t.UTC()
}
