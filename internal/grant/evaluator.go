package grant

import (
	"github.com/duskcast/streamcore/internal/apperror"
	"github.com/duskcast/streamcore/internal/models"
)

// Donation is a one-off contribution that can push a user over a tier gate
// without changing their standing subscription tier.
type Donation struct {
	AmountCents int64
}

// AccountContext is the caller's identity and standing relative to an
// album's owner, the input to Evaluator.Evaluate.
type AccountContext struct {
	IsCreator       bool
	IsTeamMember    bool
	TierAmountCents int64
	Donations       []Donation
}

// Evaluator implements the unified access rule: creators and team members
// always pass; an unrestricted album always passes; otherwise the caller
// must meet the tier amount directly or via a one-off donation top-up.
type Evaluator struct{}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns nil if account may access album, or a TierDenied
// AppError naming the required tier otherwise.
func (e *Evaluator) Evaluate(account AccountContext, album *models.Album) error {
	if account.IsCreator || account.IsTeamMember {
		return nil
	}

	restriction := album.GetTierRestriction()
	if restriction == nil || !restriction.IsRestricted {
		return nil
	}

	if account.TierAmountCents >= restriction.MinimumTierAmountCents {
		return nil
	}

	for _, d := range account.Donations {
		if account.TierAmountCents+d.AmountCents >= restriction.MinimumTierAmountCents {
			return nil
		}
	}

	return apperror.TierDenied(restriction.MinimumTierName)
}
