package telephony

import "context"

// Provisioner is the carrier number-management boundary used by line
// lifecycle code.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Requests are account-scoped; AccountID travels with every call for logs.
// - Implementations return apperr.ProviderError for carrier failures.
type Provisioner interface {
	Name() string

	SearchNumbers(ctx context.Context, req SearchNumbersRequest) ([]AvailableNumber, error)
	BuyNumber(ctx context.Context, req BuyNumberRequest) (BuyNumberResult, error)
	ReleaseNumber(ctx context.Context, req ReleaseNumberRequest) error
}

type SearchNumbersRequest struct {
	CountryISO2 string `json:"country_iso2"`
	AreaCode    string `json:"area_code,omitempty"`
	Contains    string `json:"contains,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

type AvailableNumber struct {
	Number   string `json:"number"`
	Locality string `json:"locality,omitempty"`
	Region   string `json:"region,omitempty"`
}

type BuyNumberRequest struct {
	AccountID string `json:"account_id"`

	// Number is the E.164 number chosen from SearchNumbers.
	Number       string `json:"number"`
	FriendlyName string `json:"friendly_name,omitempty"`

	// Webhook URLs are configured on the carrier at purchase time.
	VoiceURL          string `json:"voice_url"`
	StatusCallbackURL string `json:"status_callback_url"`
}

type BuyNumberResult struct {
	Number           string `json:"number"`
	ProviderNumberID string `json:"provider_number_id"`
}

type ReleaseNumberRequest struct {
	AccountID        string `json:"account_id"`
	Number           string `json:"number"`
	ProviderNumberID string `json:"provider_number_id"`
}
