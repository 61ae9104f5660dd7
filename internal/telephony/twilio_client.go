package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voiceline/internal/apperr"
)

const defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioClient implements Provisioner against the Twilio REST API.
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

func NewTwilioClient(cfg TwilioConfig) (*TwilioClient, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: hc,
	}, nil
}

func (c *TwilioClient) Name() string { return "twilio" }

// TwilioError is the REST API error body.
type TwilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

type availableNumbersPage struct {
	Numbers []struct {
		PhoneNumber string `json:"phone_number"`
		Locality    string `json:"locality"`
		Region      string `json:"region"`
	} `json:"available_phone_numbers"`
}

func (c *TwilioClient) SearchNumbers(ctx context.Context, req SearchNumbersRequest) ([]AvailableNumber, error) {
	country := strings.ToUpper(req.CountryISO2)
	if country == "" {
		country = "US"
	}
	q := url.Values{}
	q.Set("VoiceEnabled", "true")
	if req.AreaCode != "" {
		q.Set("AreaCode", req.AreaCode)
	}
	if req.Contains != "" {
		q.Set("Contains", req.Contains)
	}
	if req.Limit > 0 {
		q.Set("PageSize", strconv.Itoa(req.Limit))
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/AvailablePhoneNumbers/%s/Local.json?%s",
		c.baseURL, c.accountSID, url.PathEscape(country), q.Encode())

	var page availableNumbersPage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, apperr.Provider("twilio.search_numbers", err)
	}
	out := make([]AvailableNumber, 0, len(page.Numbers))
	for _, n := range page.Numbers {
		out = append(out, AvailableNumber{Number: n.PhoneNumber, Locality: n.Locality, Region: n.Region})
	}
	return out, nil
}

type incomingNumber struct {
	SID         string `json:"sid"`
	PhoneNumber string `json:"phone_number"`
}

func (c *TwilioClient) BuyNumber(ctx context.Context, req BuyNumberRequest) (BuyNumberResult, error) {
	if req.Number == "" || req.VoiceURL == "" {
		return BuyNumberResult{}, errors.New("telephony: number and voice url required")
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/IncomingPhoneNumbers.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("PhoneNumber", req.Number)
	data.Set("VoiceUrl", req.VoiceURL)
	data.Set("VoiceMethod", http.MethodPost)
	if req.StatusCallbackURL != "" {
		data.Set("StatusCallback", req.StatusCallbackURL)
		data.Set("StatusCallbackMethod", http.MethodPost)
	}
	if req.FriendlyName != "" {
		data.Set("FriendlyName", req.FriendlyName)
	}

	var n incomingNumber
	if err := c.do(ctx, http.MethodPost, endpoint, data, &n); err != nil {
		return BuyNumberResult{}, apperr.Provider("twilio.buy_number", err)
	}
	return BuyNumberResult{Number: n.PhoneNumber, ProviderNumberID: n.SID}, nil
}

func (c *TwilioClient) ReleaseNumber(ctx context.Context, req ReleaseNumberRequest) error {
	if req.ProviderNumberID == "" {
		return errors.New("telephony: provider number id required")
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/IncomingPhoneNumbers/%s.json",
		c.baseURL, c.accountSID, url.PathEscape(req.ProviderNumberID))
	if err := c.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return apperr.Provider("twilio.release_number", err)
	}
	return nil
}

func (c *TwilioClient) do(ctx context.Context, method, endpoint string, form url.Values, result any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr TwilioError
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("twilio: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return &apiErr
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("twilio: decode response: %w", err)
		}
	}
	return nil
}
