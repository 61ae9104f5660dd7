package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
)

// TwiML responses are built with encoding/xml; no provider SDK.
//
// CallInstruction is the routing outcome in carrier-neutral terms. Render
// turns it into the markup the carrier executes.

type Action string

const (
	// ActionConnect dials an external destination for an outbound call.
	ActionConnect Action = "connect"
	// ActionBridge dials the forwarding destination for an inbound call. The
	// callee leg runs WhisperURL before it is joined; the caller hears ringback.
	ActionBridge Action = "bridge"
	// ActionDeny speaks a specific reason and hangs up.
	ActionDeny Action = "deny"
	// ActionGreeting is the static answer for numbers with nothing to forward to.
	ActionGreeting Action = "greeting"
	// ActionApology is the degraded response for internal failures.
	ActionApology Action = "apology"
)

type CallInstruction struct {
	Action Action

	Dial               string
	CallerID           string
	WhisperURL         string
	RingTimeoutSeconds int
	Record             bool

	StatusCallbackURL    string
	RecordingCallbackURL string

	Message  string
	Voice    string
	Language string
}

const (
	DefaultVoice    = "Polly.Joanna"
	DefaultLanguage = "en-US"

	ApologyMessage  = "We're sorry, we are unable to connect your call right now. Please try again later."
	GreetingMessage = "Thank you for calling. No one is available to take your call. Goodbye."
)

// ApologyTwiML is served verbatim when even rendering fails.
const ApologyTwiML = xml.Header + `<Response><Say voice="` + DefaultVoice + `" language="` + DefaultLanguage + `">` +
	ApologyMessage + `</Say><Hangup></Hangup></Response>`

// SilentPauseTwiML is the whisper response of last resort.
const SilentPauseTwiML = xml.Header + `<Response><Pause length="1"></Pause></Response>`

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName                      xml.Name    `xml:"Dial"`
	CallerID                     string      `xml:"callerId,attr,omitempty"`
	Timeout                      int         `xml:"timeout,attr,omitempty"`
	Record                       string      `xml:"record,attr,omitempty"`
	RecordingStatusCallback      string      `xml:"recordingStatusCallback,attr,omitempty"`
	RecordingStatusCallbackEvent string      `xml:"recordingStatusCallbackEvent,attr,omitempty"`
	Number                       twimlNumber `xml:"Number"`
}

type twimlNumber struct {
	URL                  string `xml:"url,attr,omitempty"`
	Method               string `xml:"method,attr,omitempty"`
	StatusCallback       string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent  string `xml:"statusCallbackEvent,attr,omitempty"`
	StatusCallbackMethod string `xml:"statusCallbackMethod,attr,omitempty"`
	Number               string `xml:",chardata"`
}

// Render maps a CallInstruction to TwiML.
func Render(in CallInstruction) (string, error) {
	var r twimlResponse

	switch in.Action {
	case ActionConnect, ActionBridge:
		if strings.TrimSpace(in.Dial) == "" {
			return "", errors.New("telephony: dial target required for " + string(in.Action))
		}
		d := twimlDial{
			CallerID: in.CallerID,
			Timeout:  in.RingTimeoutSeconds,
			Number:   twimlNumber{Number: in.Dial},
		}
		if in.Record {
			d.Record = "record-from-answer-dual"
			d.RecordingStatusCallback = in.RecordingCallbackURL
			if in.RecordingCallbackURL != "" {
				d.RecordingStatusCallbackEvent = "completed"
			}
		}
		if in.StatusCallbackURL != "" {
			d.Number.StatusCallback = in.StatusCallbackURL
			d.Number.StatusCallbackEvent = "initiated ringing answered completed"
			d.Number.StatusCallbackMethod = "POST"
		}
		if in.Action == ActionBridge && in.WhisperURL != "" {
			d.Number.URL = in.WhisperURL
			d.Number.Method = "POST"
		}
		r.Verbs = append(r.Verbs, d)
	case ActionDeny, ActionGreeting, ActionApology:
		msg := in.Message
		if msg == "" {
			switch in.Action {
			case ActionGreeting:
				msg = GreetingMessage
			default:
				msg = ApologyMessage
			}
		}
		r.Verbs = append(r.Verbs, say(msg, in.Voice, in.Language), twimlHangup{})
	default:
		return "", errors.New("telephony: unknown action " + strconv.Quote(string(in.Action)))
	}

	return encode(r)
}

type PromptKind string

const (
	PromptNone  PromptKind = "none"
	PromptSay   PromptKind = "say"
	PromptPlay  PromptKind = "play"
	PromptPause PromptKind = "pause"
)

// WhisperPrompt is what the callee hears before being joined.
type WhisperPrompt struct {
	Kind PromptKind

	Text     string
	Voice    string
	Language string

	AudioURL string

	PauseSeconds int
}

// RenderWhisper maps a WhisperPrompt to TwiML. PromptNone yields an empty
// response so the carrier bridges immediately.
func RenderWhisper(p WhisperPrompt) (string, error) {
	var r twimlResponse
	switch p.Kind {
	case PromptNone:
	case PromptSay:
		if strings.TrimSpace(p.Text) == "" {
			return "", errors.New("telephony: say prompt without text")
		}
		r.Verbs = append(r.Verbs, say(p.Text, p.Voice, p.Language))
	case PromptPlay:
		if p.AudioURL == "" {
			return "", errors.New("telephony: play prompt without url")
		}
		r.Verbs = append(r.Verbs, twimlPlay{URL: p.AudioURL})
	case PromptPause:
		n := p.PauseSeconds
		if n <= 0 {
			n = 1
		}
		r.Verbs = append(r.Verbs, twimlPause{Length: n})
	default:
		return "", errors.New("telephony: unknown prompt " + strconv.Quote(string(p.Kind)))
	}
	return encode(r)
}

func say(text, voice, language string) twimlSay {
	if voice == "" {
		voice = DefaultVoice
	}
	if language == "" {
		language = DefaultLanguage
	}
	return twimlSay{Voice: voice, Language: language, Text: text}
}

func encode(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
