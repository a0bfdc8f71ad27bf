package service

import (
	"strings"

	"github.com/ds124wfegd/studio-booking/config"
	"github.com/ds124wfegd/studio-booking/internal/entity"
)

// Pricing quotes credit purchases from static configuration.
type Pricing struct {
	unitPriceCents int64
	currency       string
	packages       map[string]config.PackageConfig
}

func NewPricing(cfg config.PaymentsConfig) *Pricing {
	p := &Pricing{
		unitPriceCents: cfg.UnitPriceCents,
		currency:       strings.ToLower(cfg.Currency),
		packages:       make(map[string]config.PackageConfig, len(cfg.Packages)),
	}
	for _, pkg := range cfg.Packages {
		p.packages[strings.ToLower(pkg.Name)] = pkg
	}
	return p
}

// Quote prices either a named package or a plain credit amount at the unit rate.
func (p *Pricing) Quote(req *CreateCheckoutRequest) (*entity.Quote, error) {
	if req.Package != "" && req.Credits != 0 {
		return nil, entity.ErrAmbiguousCheckout
	}
	if req.Package != "" {
		pkg, ok := p.packages[strings.ToLower(req.Package)]
		if !ok {
			return nil, entity.ErrUnknownPackage
		}
		return &entity.Quote{
			Credits:     pkg.Credits,
			AmountCents: pkg.PriceCents,
			Currency:    p.currency,
			PackageName: pkg.Name,
		}, nil
	}

	if req.Credits < entity.MinCredits || req.Credits > entity.MaxCredits {
		return nil, entity.ErrInvalidCredits
	}
	return &entity.Quote{
		Credits:     req.Credits,
		AmountCents: req.Credits * p.unitPriceCents,
		Currency:    p.currency,
	}, nil
}
