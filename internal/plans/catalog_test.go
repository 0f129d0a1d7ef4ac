package plans

import (
	"errors"
	"testing"
)

func TestOfferableRejectsLegacy(t *testing.T) {
	if _, err := Offerable("legacy_5year"); !errors.Is(err, ErrPlanNotOfferable) {
		t.Fatalf("expected ErrPlanNotOfferable, got %v", err)
	}
	if _, err := Offerable("press_monthly"); err != nil {
		t.Fatalf("press_monthly should be offerable: %v", err)
	}
}

func TestByIDUnknown(t *testing.T) {
	if _, err := ByID("gold_plated"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestCurrentExcludesLegacy(t *testing.T) {
	for _, p := range Current() {
		if p.Legacy {
			t.Fatalf("Current() returned legacy plan %s", p.ID)
		}
	}
	if len(Current()) == 0 {
		t.Fatal("Current() returned no plans")
	}
}

func TestRecurringPlansHaveGatewayIDs(t *testing.T) {
	for _, p := range All() {
		if p.RenewalMode == "recurring" && p.GatewayPlanID == "" {
			t.Fatalf("recurring plan %s has no gateway plan id", p.ID)
		}
	}
}
