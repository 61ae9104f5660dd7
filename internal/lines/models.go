package lines

import (
	"time"

	"github.com/shopspring/decimal"
)

// Line is a phone number rented on behalf of an account.
//
// Released lines are soft-deactivated (Active=false) and kept for history;
// the number is deprovisioned at the carrier.
type Line struct {
	ID               string          `json:"id" db:"id"`
	AccountID        string          `json:"account_id" db:"account_id"`
	Number           string          `json:"number" db:"number"`
	Label            string          `json:"label,omitempty" db:"label"`
	ProviderNumberID string          `json:"-" db:"provider_number_id"`
	Active           bool            `json:"active" db:"active"`
	MonthlyCost      decimal.Decimal `json:"monthly_cost" db:"monthly_cost"`

	Whisper WhisperConfig `json:"whisper"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty" db:"released_at"`
}

type WhisperMode string

const (
	WhisperModeSpeak WhisperMode = "speak"
	WhisperModePlay  WhisperMode = "play"
)

type WhisperConfig struct {
	Enabled  bool        `json:"enabled" db:"whisper_enabled"`
	Mode     WhisperMode `json:"mode" db:"whisper_mode"`
	Template string      `json:"template,omitempty" db:"whisper_template"`
	Voice    string      `json:"voice,omitempty" db:"whisper_voice"`
	Language string      `json:"language,omitempty" db:"whisper_language"`
	// AssetID is the line's active whisper audio asset, set by uploads.
	AssetID string `json:"asset_id,omitempty" db:"whisper_asset_id"`
}

// WhisperView is the narrow projection read on the whisper fetch path.
type WhisperView struct {
	LineID  string
	Number  string
	Label   string
	Active  bool
	Whisper WhisperConfig
}

type AcquireInput struct {
	Number string `json:"number"`
	Label  string `json:"label"`
}

// WhisperPatch holds optional changes; nil fields are left as they are.
type WhisperPatch struct {
	Enabled  *bool        `json:"enabled"`
	Mode     *WhisperMode `json:"mode"`
	Template *string      `json:"template"`
	Voice    *string      `json:"voice"`
	Language *string      `json:"language"`
	// ClearAsset detaches the current audio asset without deleting it.
	ClearAsset bool `json:"clear_asset"`
}

const MaxTemplateLength = 300
