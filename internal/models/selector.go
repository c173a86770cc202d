package models

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// Tier names a quality/cost band. The orchestrator sends small routing
// decisions to the fast tier and full turns to the default tier.
type Tier string

const (
	TierDefault Tier = "default"
	TierFast    Tier = "fast"
)

// ForTier resolves the model for a tier. A missing fast tier falls back to
// the default provider so routing always has a model to call.
func (r *Registry) ForTier(ctx context.Context, tier Tier) (model.ToolCallingChatModel, error) {
	if tier == TierFast && r.fastName != "" {
		return r.Get(ctx, r.fastName)
	}
	return r.Default(ctx)
}

// TierName returns the provider name the tier resolves to.
func (r *Registry) TierName(tier Tier) string {
	if tier == TierFast && r.fastName != "" {
		return r.fastName
	}
	return r.defaultName
}
