package whisper

import (
	"context"
	"errors"
	"strings"
	"time"

	"voiceline/internal/lines"
	"voiceline/internal/telephony"
	"voiceline/pkg/logger"
)

// SettingsSource is the single-row whisper lookup. lines.PostgresRepo,
// lines.MemoryRepo and Cache all satisfy it.
type SettingsSource interface {
	WhisperView(ctx context.Context, lineID string) (lines.WhisperView, error)
}

const DefaultTemplate = "Incoming call for {label}."

var errMalformed = errors.New("whisper: malformed configuration")

// Announcer builds the private message the callee hears before a forwarded
// call is joined. It never fails: every error degrades to a short pause.
type Announcer struct {
	settings SettingsSource
	audioURL func(assetID string) string
	budget   time.Duration
}

// NewAnnouncer wires the lookup and the public base URL used for audio
// playback. budget <= 0 disables the deadline.
func NewAnnouncer(settings SettingsSource, publicBaseURL string, budget time.Duration) *Announcer {
	base := strings.TrimRight(publicBaseURL, "/")
	return &Announcer{
		settings: settings,
		audioURL: func(id string) string { return base + "/webhooks/voice/whisper/audio/" + id },
		budget:   budget,
	}
}

// Silence is the degraded prompt.
var Silence = telephony.WhisperPrompt{Kind: telephony.PromptPause, PauseSeconds: 1}

// Announce applies the fallback ladder: disabled, custom text, audio asset,
// generic default, and a silent pause on any error.
func (a *Announcer) Announce(ctx context.Context, lineID, caller string) telephony.WhisperPrompt {
	log := logger.From(ctx)
	if lineID == "" {
		log.Warn("whisper without line id")
		return Silence
	}
	if a.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.budget)
		defer cancel()
	}

	view, err := a.settings.WhisperView(ctx, lineID)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Warn("whisper lookup failed, pausing", "line_id", lineID, "err", err)
		return Silence
	}

	p, err := a.prompt(view, caller)
	if err != nil {
		log.Warn("whisper config unusable, pausing", "line_id", lineID, "err", err)
		return Silence
	}
	return p
}

func (a *Announcer) prompt(v lines.WhisperView, caller string) (telephony.WhisperPrompt, error) {
	w := v.Whisper
	if !v.Active || !w.Enabled {
		return telephony.WhisperPrompt{Kind: telephony.PromptNone}, nil
	}
	switch w.Mode {
	case lines.WhisperModeSpeak, lines.WhisperModePlay:
	default:
		return telephony.WhisperPrompt{}, errMalformed
	}

	hasText := strings.TrimSpace(w.Template) != ""
	hasAsset := w.AssetID != ""
	switch {
	case hasText && hasAsset && w.Mode == lines.WhisperModePlay:
		// Both configured: the mode picks which one the owner meant.
		return a.play(w.AssetID), nil
	case hasText:
		return a.say(Expand(w.Template, v, caller), w), nil
	case hasAsset:
		return a.play(w.AssetID), nil
	}
	return a.say(Expand(DefaultTemplate, v, caller), w), nil
}

func (a *Announcer) play(assetID string) telephony.WhisperPrompt {
	return telephony.WhisperPrompt{Kind: telephony.PromptPlay, AudioURL: a.audioURL(assetID)}
}

func (a *Announcer) say(text string, w lines.WhisperConfig) telephony.WhisperPrompt {
	return telephony.WhisperPrompt{
		Kind:     telephony.PromptSay,
		Text:     text,
		Voice:    w.Voice,
		Language: w.Language,
	}
}

// Expand substitutes {label} and {caller}. A line without a label is named
// by its number; caller digits are spaced out for speech.
func Expand(template string, v lines.WhisperView, caller string) string {
	label := strings.TrimSpace(v.Label)
	if label == "" {
		label = telephony.SpellDigits(v.Number)
	}
	spoken := telephony.SpellDigits(caller)
	if telephony.IsClientIdentity(caller) || spoken == "" {
		spoken = "an unknown caller"
	}
	r := strings.NewReplacer("{label}", label, "{caller}", spoken)
	return strings.TrimSpace(r.Replace(template))
}
