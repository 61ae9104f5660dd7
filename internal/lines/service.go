package lines

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"voiceline/internal/apperr"
	"voiceline/internal/billing"
	"voiceline/internal/telephony"
	"voiceline/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Purchaser is the billing gate consulted before a number is bought.
type Purchaser interface {
	PurchaseLine(ctx context.Context, accountID string, monthlyCost decimal.Decimal) (billing.LinePurchase, error)
	RefundLinePurchase(ctx context.Context, p billing.LinePurchase) error
}

// CacheInvalidator drops cached whisper settings for a line.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, lineID string) error
}

type AuditLogger interface {
	LogLineAcquired(ctx context.Context, accountID, lineID, number string, free bool)
	LogLineReleased(ctx context.Context, accountID, lineID, number string)
	LogWhisperChanged(ctx context.Context, accountID, lineID, change string)
}

type Options struct {
	// PublicBaseURL is where the carrier reaches our webhooks.
	PublicBaseURL string
	MonthlyCost   decimal.Decimal
}

type Service struct {
	repo    Repository
	carrier telephony.Provisioner
	billing Purchaser
	audit   AuditLogger
	cache   CacheInvalidator
	opts    Options
	clock   func() time.Time
	newID   func() string
}

func NewService(repo Repository, carrier telephony.Provisioner, purchaser Purchaser, audit AuditLogger, opts Options) *Service {
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Service{
		repo:    repo,
		carrier: carrier,
		billing: purchaser,
		audit:   audit,
		opts:    opts,
		clock:   time.Now,
		newID:   uuid.NewString,
	}
}

// WithCache sets the whisper cache invalidated on settings changes.
func (s *Service) WithCache(c CacheInvalidator) *Service {
	s.cache = c
	return s
}

func (s *Service) VoiceURL() string  { return s.opts.PublicBaseURL + "/webhooks/voice/incoming" }
func (s *Service) StatusURL() string { return s.opts.PublicBaseURL + "/webhooks/voice/status" }

// Acquire buys number for the account. Billing is charged first and refunded
// if the carrier purchase or the local insert fails.
func (s *Service) Acquire(ctx context.Context, accountID string, in AcquireInput) (Line, error) {
	v := &apperr.ValidationError{}
	number, ok := telephony.NormalizeE164(in.Number)
	if !ok {
		v.Add("number", "must be an E.164 phone number")
	}
	if utf8.RuneCountInString(in.Label) > 64 {
		v.Add("label", "must be at most 64 characters")
	}
	if err := v.OrNil(); err != nil {
		return Line{}, err
	}
	if _, taken, err := s.repo.FindActiveByNumber(ctx, number); err != nil {
		return Line{}, err
	} else if taken {
		return Line{}, apperr.ErrConflict
	}

	purchase, err := s.billing.PurchaseLine(ctx, accountID, s.opts.MonthlyCost)
	if err != nil {
		return Line{}, err
	}

	bought, err := s.carrier.BuyNumber(ctx, telephony.BuyNumberRequest{
		AccountID:         accountID,
		Number:            number,
		FriendlyName:      in.Label,
		VoiceURL:          s.VoiceURL(),
		StatusCallbackURL: s.StatusURL(),
	})
	if err != nil {
		s.refund(ctx, purchase)
		if apperr.IsProvider(err) {
			return Line{}, err
		}
		return Line{}, apperr.Provider(s.carrier.Name()+".buy_number", err)
	}

	now := s.clock().UTC()
	cost := s.opts.MonthlyCost
	if purchase.Free {
		cost = decimal.Zero
	}
	l := Line{
		ID:               s.newID(),
		AccountID:        accountID,
		Number:           bought.Number,
		Label:            strings.TrimSpace(in.Label),
		ProviderNumberID: bought.ProviderNumberID,
		Active:           true,
		MonthlyCost:      cost,
		Whisper:          WhisperConfig{Mode: WhisperModeSpeak},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if l.Number == "" {
		l.Number = number
	}
	if err := s.repo.Insert(ctx, l); err != nil {
		if rerr := s.carrier.ReleaseNumber(ctx, telephony.ReleaseNumberRequest{
			AccountID: accountID, Number: l.Number, ProviderNumberID: l.ProviderNumberID,
		}); rerr != nil {
			logger.From(ctx).Error("release after failed insert", "number", l.Number, "err", rerr)
		}
		s.refund(ctx, purchase)
		return Line{}, err
	}

	logger.From(ctx).Info("line acquired", "account_id", accountID, "line_id", l.ID, "free", purchase.Free)
	if s.audit != nil {
		s.audit.LogLineAcquired(ctx, accountID, l.ID, l.Number, purchase.Free)
	}
	return l, nil
}

func (s *Service) refund(ctx context.Context, p billing.LinePurchase) {
	if err := s.billing.RefundLinePurchase(ctx, p); err != nil {
		logger.From(ctx).Error("line purchase refund failed", "account_id", p.AccountID, "free", p.Free, "err", err)
	}
}

// Release deactivates the line and deprovisions the number. Calling it again
// on an inactive line retries only the carrier step.
func (s *Service) Release(ctx context.Context, accountID, lineID string) error {
	l, err := s.Get(ctx, accountID, lineID)
	if err != nil {
		return err
	}
	if l.Active {
		if err := s.repo.Deactivate(ctx, l.ID, s.clock().UTC()); err != nil {
			return err
		}
		s.invalidate(ctx, l.ID)
	}
	err = s.carrier.ReleaseNumber(ctx, telephony.ReleaseNumberRequest{
		AccountID:        accountID,
		Number:           l.Number,
		ProviderNumberID: l.ProviderNumberID,
	})
	if err != nil {
		logger.From(ctx).Error("carrier release failed", "line_id", l.ID, "err", err)
		if apperr.IsProvider(err) {
			return err
		}
		return apperr.Provider(s.carrier.Name()+".release_number", err)
	}
	if s.audit != nil && l.Active {
		s.audit.LogLineReleased(ctx, accountID, l.ID, l.Number)
	}
	return nil
}

func (s *Service) Search(ctx context.Context, req telephony.SearchNumbersRequest) ([]telephony.AvailableNumber, error) {
	if req.CountryISO2 == "" {
		req.CountryISO2 = "US"
	}
	req.CountryISO2 = strings.ToUpper(req.CountryISO2)
	v := &apperr.ValidationError{}
	if len(req.CountryISO2) != 2 {
		v.Add("country", "must be a two-letter ISO code")
	}
	if req.AreaCode != "" && !areaCodeRe.MatchString(req.AreaCode) {
		v.Add("area_code", "must be 3 digits")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	out, err := s.carrier.SearchNumbers(ctx, req)
	if err != nil && !apperr.IsProvider(err) {
		return nil, apperr.Provider(s.carrier.Name()+".search_numbers", err)
	}
	return out, err
}

var areaCodeRe = regexp.MustCompile(`^[0-9]{3}$`)

func (s *Service) List(ctx context.Context, accountID string) ([]Line, error) {
	return s.repo.ListByAccount(ctx, accountID)
}

// Get returns the line if it belongs to accountID. Foreign lines are
// reported as not found.
func (s *Service) Get(ctx context.Context, accountID, lineID string) (Line, error) {
	l, err := s.repo.Get(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	if l.AccountID != accountID {
		return Line{}, apperr.ErrNotFound
	}
	return l, nil
}

func (s *Service) OwnerOf(ctx context.Context, lineID string) (string, error) {
	l, err := s.repo.Get(ctx, lineID)
	if err != nil {
		return "", err
	}
	return l.AccountID, nil
}

// FindActiveByNumber is the routing-path lookup for an owned number.
func (s *Service) FindActiveByNumber(ctx context.Context, number string) (Line, bool, error) {
	if number == "" {
		return Line{}, false, nil
	}
	return s.repo.FindActiveByNumber(ctx, number)
}

var (
	voiceRe    = regexp.MustCompile(`^(alice|man|woman|Polly\.[A-Z][A-Za-z]+(-Neural)?|Google\.[a-z]{2,3}-[A-Z]{2}-[A-Za-z0-9-]+)$`)
	languageRe = regexp.MustCompile(`^[a-z]{2,3}-[A-Z]{2}$`)
)

func (s *Service) UpdateWhisper(ctx context.Context, accountID, lineID string, p WhisperPatch) (Line, error) {
	l, err := s.Get(ctx, accountID, lineID)
	if err != nil {
		return Line{}, err
	}
	if !l.Active {
		return Line{}, fmt.Errorf("%w: line released", apperr.ErrNotFound)
	}

	w := l.Whisper
	if p.Enabled != nil {
		w.Enabled = *p.Enabled
	}
	if p.Mode != nil {
		w.Mode = *p.Mode
	}
	if p.Template != nil {
		w.Template = strings.TrimSpace(*p.Template)
	}
	if p.Voice != nil {
		w.Voice = *p.Voice
	}
	if p.Language != nil {
		w.Language = *p.Language
	}
	if p.ClearAsset {
		w.AssetID = ""
	}
	if err := validateWhisper(w); err != nil {
		return Line{}, err
	}

	now := s.clock().UTC()
	if err := s.repo.UpdateWhisper(ctx, l.ID, w, now); err != nil {
		return Line{}, err
	}
	s.invalidate(ctx, l.ID)
	if s.audit != nil {
		s.audit.LogWhisperChanged(ctx, accountID, l.ID, "settings")
	}
	l.Whisper = w
	l.UpdatedAt = now
	return l, nil
}

func (s *Service) invalidate(ctx context.Context, lineID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, lineID); err != nil {
		logger.From(ctx).Warn("whisper cache invalidate failed", "line_id", lineID, "err", err)
	}
}

func validateWhisper(w WhisperConfig) error {
	v := &apperr.ValidationError{}
	switch w.Mode {
	case WhisperModeSpeak, WhisperModePlay:
	case "":
		v.Add("mode", "required")
	default:
		v.Add("mode", "must be speak or play")
	}
	if utf8.RuneCountInString(w.Template) > MaxTemplateLength {
		v.Add("template", fmt.Sprintf("must be at most %d characters", MaxTemplateLength))
	}
	if w.Voice != "" && !voiceRe.MatchString(w.Voice) {
		v.Add("voice", "unsupported voice")
	}
	if w.Language != "" && !languageRe.MatchString(w.Language) {
		v.Add("language", "must look like en-US")
	}
	return v.OrNil()
}
