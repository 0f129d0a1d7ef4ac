package plans

import (
	"errors"
	"fmt"

	"github.com/pressfolio/backend/internal/models"
)

// ErrUnclassifiableAmount is returned when an amount falls outside every
// defined band. The caller must escalate to manual review; the classifier
// never guesses.
var ErrUnclassifiableAmount = errors.New("amount matches no known plan band")

// amountBand maps an inclusive amount range within one renewal mode to a
// plan id. Bands are data so edges can be audited and changed without
// touching the lifecycle state machine.
type amountBand struct {
	mode   models.RenewalMode
	min    int
	max    int
	planID string
}

// bands must be exhaustive and non-overlapping per mode. Covered by
// TestBandsDoNotOverlap.
var bands = []amountBand{
	{models.RenewalRecurring, 1, 500, "legacy_annual"},
	{models.RenewalRecurring, 501, 2000, "press_monthly"},
	{models.RenewalRecurring, 2001, 20000, "press_annual"},
	{models.RenewalOneTime, 2001, 5000, "legacy_5year"},
	{models.RenewalOneTime, 5001, 10000, "press_10year"},
}

// Classify infers the plan identity for a gateway amount observed in the
// given renewal mode.
func Classify(amountMinorUnits int, mode models.RenewalMode) (*models.Plan, error) {
	for _, b := range bands {
		if b.mode != mode {
			continue
		}
		if amountMinorUnits >= b.min && amountMinorUnits <= b.max {
			return ByID(b.planID)
		}
	}
	return nil, fmt.Errorf("%w: amount=%d mode=%s", ErrUnclassifiableAmount, amountMinorUnits, mode)
}
