package assumption

import (
	"testing"
	"time"
)

func basePack() Pack {
	evidence := []Evidence{{Note: "from the data room"}}
	return Pack{
		PackID:    "pack_base",
		SessionID: "draft_1",
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:    StatusDraft,
		Assumptions: []Assumption{
			{Key: "target_year", ValueType: TypeNumber, Value: 2030.0, Required: true, Evidence: evidence},
			{Key: "investment_year", ValueType: TypeNumber, Value: 2024.0, Required: true, Evidence: evidence},
			{Key: "investment_amount", ValueType: TypeNumber, Value: 1000000.0, Required: true, Evidence: evidence},
			{Key: "shares", ValueType: TypeNumber, Value: 10000.0, Required: true, Evidence: evidence},
			{Key: "total_shares", ValueType: TypeNumber, Value: 100000.0, Required: true, Evidence: evidence},
			{Key: "price_per_share", ValueType: TypeNumber, Value: 100.0, Evidence: evidence},
			{Key: "per_multiples", ValueType: TypeNumberArray, Value: []float64{10, 20}, Required: true, Evidence: evidence},
			{Key: "net_income_target_year", ValueType: TypeNumber, Value: 500000.0, Required: true, Evidence: evidence},
		},
	}
}

func findCheck(t *testing.T, result Result, name string) Check {
	t.Helper()
	for _, c := range result.Checks {
		if c.Check == name {
			return c
		}
	}
	t.Fatalf("check %q not found in %+v", name, result.Checks)
	return Check{}
}

func TestValidatePasses(t *testing.T) {
	result := Validate(basePack(), nil)
	if result.Status != CheckPass {
		t.Fatalf("expected pass, got %s: %+v", result.Status, result.Checks)
	}
	if got := findCheck(t, result, "year_math"); got.Status != CheckPass {
		t.Fatalf("year_math: %+v", got)
	}
	if got := findCheck(t, result, "investment_math"); got.Status != CheckPass {
		t.Fatalf("investment_math: %+v", got)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	pack := basePack()
	pack.Assumptions = pack.Assumptions[:1]
	result := Validate(pack, nil)
	if result.Status != CheckFail {
		t.Fatalf("expected fail, got %s", result.Status)
	}
}

func TestPerMultiplesNormalization(t *testing.T) {
	pack := basePack()
	pack.Lookup("per_multiples").Value = []float64{300, -5, 10, 10, 20}
	result := Validate(pack, nil)

	check := findCheck(t, result, "per_multiples_normalized")
	if check.Status != CheckWarn {
		t.Fatalf("expected warn, got %s", check.Status)
	}
	normalized, ok := result.Normalized.Lookup("per_multiples").Value.([]float64)
	if !ok {
		t.Fatalf("normalized value has wrong type: %T", result.Normalized.Lookup("per_multiples").Value)
	}
	want := []float64{10, 20}
	if len(normalized) != len(want) || normalized[0] != want[0] || normalized[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, normalized)
	}
	// The input pack is untouched.
	if got := pack.Lookup("per_multiples").Value.([]float64); len(got) != 5 {
		t.Fatalf("input pack was mutated: %v", got)
	}
}

func TestYearMathInverted(t *testing.T) {
	pack := basePack()
	pack.Lookup("target_year").Value = 2020.0
	result := Validate(pack, nil)
	if result.Status != CheckFail {
		t.Fatalf("expected fail, got %s", result.Status)
	}
	if got := findCheck(t, result, "year_math"); got.Status != CheckFail {
		t.Fatalf("year_math: %+v", got)
	}
}

func TestYearMathLongHolding(t *testing.T) {
	pack := basePack()
	pack.Lookup("target_year").Value = 2060.0
	result := Validate(pack, nil)
	if got := findCheck(t, result, "year_math"); got.Status != CheckWarn {
		t.Fatalf("year_math: %+v", got)
	}
}

func TestInvestmentYearFromDate(t *testing.T) {
	pack := basePack()
	pack.Lookup("investment_year").Value = nil
	pack.Assumptions = append(pack.Assumptions, Assumption{
		Key: "investment_date", ValueType: TypeString, Value: "2024-06-15",
	})
	result := Validate(pack, nil)
	if got := findCheck(t, result, "year_math"); got.Status != CheckPass {
		t.Fatalf("year_math should use investment_date: %+v", got)
	}
}

func TestInvestmentMathInconsistent(t *testing.T) {
	pack := basePack()
	pack.Lookup("price_per_share").Value = 200.0
	result := Validate(pack, nil)
	if got := findCheck(t, result, "investment_math"); got.Status != CheckWarn {
		t.Fatalf("investment_math: %+v", got)
	}
}

func TestInvestmentMathMissingPrice(t *testing.T) {
	pack := basePack()
	pack.Lookup("price_per_share").Value = nil
	result := Validate(pack, nil)
	if got := findCheck(t, result, "investment_math"); got.Status != CheckWarn {
		t.Fatalf("investment_math: %+v", got)
	}
}

func TestEvidenceCoverage(t *testing.T) {
	pack := basePack()
	pack.Lookup("shares").Evidence = nil
	result := Validate(pack, nil)
	if got := findCheck(t, result, "evidence:shares"); got.Status != CheckWarn {
		t.Fatalf("evidence:shares: %+v", got)
	}
}

func TestDriftAgainstLockedPack(t *testing.T) {
	prev := basePack()
	prev.Status = StatusLocked
	pack := basePack()
	pack.Lookup("investment_amount").Value = 2500000.0

	result := Validate(pack, &prev)
	if got := findCheck(t, result, "drift:investment_amount"); got.Status != CheckWarn {
		t.Fatalf("drift:investment_amount: %+v", got)
	}

	// Within the band no drift check is emitted.
	pack.Lookup("investment_amount").Value = 1500000.0
	result = Validate(pack, &prev)
	for _, c := range result.Checks {
		if c.Check == "drift:investment_amount" {
			t.Fatalf("unexpected drift warning: %+v", c)
		}
	}
}

func TestDerive(t *testing.T) {
	pack := basePack()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	locked := pack.Derive(StatusLocked, "approved by IC", "pack_locked", "bram", at)

	if locked.Status != StatusLocked || locked.PackID != "pack_locked" {
		t.Fatalf("derive: %+v", locked)
	}
	if locked.Lineage == nil || locked.Lineage.ParentPackID != "pack_base" {
		t.Fatalf("lineage: %+v", locked.Lineage)
	}
	if pack.Status != StatusDraft || pack.Lineage != nil {
		t.Fatalf("parent pack mutated: %+v", pack)
	}
	locked.Assumptions[0].Value = 1999.0
	if pack.Assumptions[0].Value != 2030.0 {
		t.Fatalf("derived pack shares assumption storage with parent")
	}
}
