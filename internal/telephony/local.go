package telephony

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// LocalProvisioner is an in-process stand-in for the carrier, used in local
// development and tests. Numbers come from the 555-01xx fictional range.
type LocalProvisioner struct {
	mu    sync.Mutex
	owned map[string]string // provider id -> number

	// FailBuy makes BuyNumber fail, to exercise compensation paths.
	FailBuy error
}

func NewLocalProvisioner() *LocalProvisioner {
	return &LocalProvisioner{owned: map[string]string{}}
}

func (p *LocalProvisioner) Name() string { return "local" }

func (p *LocalProvisioner) SearchNumbers(ctx context.Context, req SearchNumbersRequest) ([]AvailableNumber, error) {
	area := req.AreaCode
	if area == "" {
		area = "202"
	}
	limit := req.Limit
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	taken := map[string]bool{}
	for _, n := range p.owned {
		taken[n] = true
	}
	var out []AvailableNumber
	for i := 0; i < 100 && len(out) < limit; i++ {
		n := fmt.Sprintf("+1%s55501%02d", area, i)
		if taken[n] {
			continue
		}
		out = append(out, AvailableNumber{Number: n, Region: "local"})
	}
	return out, nil
}

func (p *LocalProvisioner) BuyNumber(ctx context.Context, req BuyNumberRequest) (BuyNumberResult, error) {
	if p.FailBuy != nil {
		return BuyNumberResult{}, p.FailBuy
	}
	if !IsE164(req.Number) {
		return BuyNumberResult{}, errors.New("telephony: local provisioner requires an E.164 number")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.owned {
		if n == req.Number {
			return BuyNumberResult{}, fmt.Errorf("telephony: %s already provisioned", req.Number)
		}
	}
	id := "PN" + uuid.NewString()
	p.owned[id] = req.Number
	return BuyNumberResult{Number: req.Number, ProviderNumberID: id}, nil
}

func (p *LocalProvisioner) ReleaseNumber(ctx context.Context, req ReleaseNumberRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.owned[req.ProviderNumberID]; !ok {
		return fmt.Errorf("telephony: unknown provider number %q", req.ProviderNumberID)
	}
	delete(p.owned, req.ProviderNumberID)
	return nil
}
