package assumption

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CheckStatus is the outcome of a single validation rule.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one rule outcome. Warn and fail are ordinary values, never errors.
type Check struct {
	Check   string      `json:"check"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
}

// Result is the full validation outcome plus the normalized pack.
type Result struct {
	Status     CheckStatus `json:"status"`
	Checks     []Check     `json:"checks"`
	Normalized Pack        `json:"normalizedPack"`
}

const (
	perMultiplesMin = 1
	perMultiplesMax = 200
	perMultiplesCap = 12

	maxHoldingYears   = 30
	investmentMathTol = 0.10
	driftUpperRatio   = 2.0
	driftLowerRatio   = 0.5
)

// requiredKeys must be populated before a pack can feed computation.
// investment_year is special-cased: a parseable investment_date satisfies it.
var requiredKeys = []string{
	"target_year",
	"investment_amount",
	"shares",
	"total_shares",
	"per_multiples",
	"net_income_target_year",
}

// loadBearingKeys should carry at least one evidence reference.
var loadBearingKeys = []string{
	"investment_amount",
	"shares",
	"total_shares",
	"per_multiples",
	"net_income_target_year",
}

// driftKeys are compared against the previously locked pack.
var driftKeys = []string{
	"investment_amount",
	"shares",
	"total_shares",
	"net_income_target_year",
	"price_per_share",
}

// Validate runs every rule against pack. prevLocked, when non-nil, enables
// the drift rule. Validate is pure: it never mutates pack and performs no I/O.
func Validate(pack Pack, prevLocked *Pack) Result {
	normalized := clonePack(pack)
	var checks []Check

	checks = append(checks, checkRequired(pack)...)
	checks = append(checks, normalizePerMultiples(&normalized)...)
	checks = append(checks, checkYearMath(pack)...)
	checks = append(checks, checkInvestmentMath(pack)...)
	checks = append(checks, checkEvidence(pack)...)
	if prevLocked != nil {
		checks = append(checks, checkDrift(pack, *prevLocked)...)
	}

	return Result{Status: overall(checks), Checks: checks, Normalized: normalized}
}

func overall(checks []Check) CheckStatus {
	status := CheckPass
	for _, c := range checks {
		if c.Status == CheckFail {
			return CheckFail
		}
		if c.Status == CheckWarn {
			status = CheckWarn
		}
	}
	return status
}

func checkRequired(pack Pack) []Check {
	var checks []Check
	for _, key := range requiredKeys {
		if !populated(pack.Lookup(key)) {
			checks = append(checks, Check{
				Check:   "required:" + key,
				Status:  CheckFail,
				Message: fmt.Sprintf("required assumption %q is missing or empty", key),
			})
		}
	}
	if _, ok := investmentYear(pack); !ok {
		checks = append(checks, Check{
			Check:   "required:investment_year",
			Status:  CheckFail,
			Message: "neither investment_year nor a parseable investment_date is set",
		})
	}
	if len(checks) == 0 {
		checks = append(checks, Check{
			Check:   "required_fields",
			Status:  CheckPass,
			Message: "all required assumptions are populated",
		})
	}
	return checks
}

func normalizePerMultiples(pack *Pack) []Check {
	a := pack.Lookup("per_multiples")
	if a == nil {
		return nil
	}
	original, ok := numberSlice(a.Value)
	if !ok {
		return nil
	}

	seen := make(map[float64]bool, len(original))
	var norm []float64
	for _, v := range original {
		if seen[v] {
			continue
		}
		seen[v] = true
		if v < perMultiplesMin || v > perMultiplesMax {
			continue
		}
		norm = append(norm, v)
	}
	sort.Float64s(norm)
	if len(norm) > perMultiplesCap {
		norm = norm[:perMultiplesCap]
	}

	if equalSlices(original, norm) {
		return nil
	}
	a.Value = norm
	return []Check{{
		Check:   "per_multiples_normalized",
		Status:  CheckWarn,
		Message: fmt.Sprintf("per_multiples normalized from %d to %d entries", len(original), len(norm)),
	}}
}

func checkYearMath(pack Pack) []Check {
	target, okTarget := number(lookupValue(pack, "target_year"))
	invYear, okInv := investmentYear(pack)
	if !okTarget || !okInv {
		return nil
	}
	holding := int(target) - invYear
	switch {
	case holding <= 0:
		return []Check{{
			Check:   "year_math",
			Status:  CheckFail,
			Message: fmt.Sprintf("holding period is %d years; target_year must be after the investment year", holding),
		}}
	case holding > maxHoldingYears:
		return []Check{{
			Check:   "year_math",
			Status:  CheckWarn,
			Message: fmt.Sprintf("holding period of %d years exceeds %d", holding, maxHoldingYears),
		}}
	default:
		return []Check{{
			Check:   "year_math",
			Status:  CheckPass,
			Message: fmt.Sprintf("holding period is %d years", holding),
		}}
	}
}

func checkInvestmentMath(pack Pack) []Check {
	shares, okShares := number(lookupValue(pack, "shares"))
	amount, okAmount := number(lookupValue(pack, "investment_amount"))
	price, okPrice := number(lookupValue(pack, "price_per_share"))

	if !okShares || !okAmount {
		return nil
	}
	if !okPrice {
		return []Check{{
			Check:   "investment_math",
			Status:  CheckWarn,
			Message: "price_per_share is not set; investment_amount cannot be cross-checked against shares",
		}}
	}

	implied := shares * price
	diff := math.Abs(implied - amount)
	base := math.Abs(amount)
	if base == 0 || diff/base >= investmentMathTol {
		return []Check{{
			Check:   "investment_math",
			Status:  CheckWarn,
			Message: fmt.Sprintf("shares × price_per_share = %.2f differs from investment_amount = %.2f by 10%% or more", implied, amount),
		}}
	}
	return []Check{{
		Check:   "investment_math",
		Status:  CheckPass,
		Message: "shares × price_per_share is consistent with investment_amount",
	}}
}

func checkEvidence(pack Pack) []Check {
	var checks []Check
	for _, key := range loadBearingKeys {
		a := pack.Lookup(key)
		if a == nil {
			continue
		}
		if hasEvidence(a.Evidence) {
			continue
		}
		checks = append(checks, Check{
			Check:   "evidence:" + key,
			Status:  CheckWarn,
			Message: fmt.Sprintf("assumption %q has no supporting fact or justification note", key),
		})
	}
	return checks
}

func checkDrift(pack, prev Pack) []Check {
	var checks []Check
	for _, key := range driftKeys {
		current, okCurrent := number(lookupValue(pack, key))
		previous, okPrevious := number(lookupValue(prev, key))
		if !okCurrent || !okPrevious || previous == 0 {
			continue
		}
		ratio := current / previous
		if ratio >= driftUpperRatio || ratio <= driftLowerRatio {
			checks = append(checks, Check{
				Check:   "drift:" + key,
				Status:  CheckWarn,
				Message: fmt.Sprintf("%s changed from %.4g to %.4g against the last locked pack", key, previous, current),
			})
		}
	}
	return checks
}

func hasEvidence(entries []Evidence) bool {
	for _, e := range entries {
		if strings.TrimSpace(e.FactID) != "" || strings.TrimSpace(e.Note) != "" {
			return true
		}
	}
	return false
}

// investmentYear resolves the investment year from investment_year, falling
// back to the year parsed out of investment_date.
func investmentYear(pack Pack) (int, bool) {
	if v, ok := number(lookupValue(pack, "investment_year")); ok {
		return int(v), true
	}
	raw, ok := lookupValue(pack, "investment_date").(string)
	if !ok {
		return 0, false
	}
	return parseYear(raw)
}

func parseYear(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006/01/02", "01/02/2006"} {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Year(), true
		}
	}
	if len(trimmed) >= 4 {
		if year, err := strconv.Atoi(trimmed[:4]); err == nil && year > 1000 {
			return year, true
		}
	}
	return 0, false
}

func lookupValue(pack Pack, key string) any {
	if a := pack.Lookup(key); a != nil {
		return a.Value
	}
	return nil
}

// populated reports whether the assumption carries a non-empty value of its
// declared type.
func populated(a *Assumption) bool {
	if a == nil {
		return false
	}
	switch a.ValueType {
	case TypeNumber:
		_, ok := number(a.Value)
		return ok
	case TypeString:
		s, ok := a.Value.(string)
		return ok && strings.TrimSpace(s) != ""
	case TypeNumberArray:
		vals, ok := numberSlice(a.Value)
		return ok && len(vals) > 0
	default:
		return a.Value != nil
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func numberSlice(v any) ([]float64, bool) {
	switch vals := v.(type) {
	case []float64:
		return append([]float64(nil), vals...), true
	case []any:
		out := make([]float64, 0, len(vals))
		for _, item := range vals {
			n, ok := number(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}

func equalSlices(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clonePack(pack Pack) Pack {
	cloned := pack
	cloned.Assumptions = make([]Assumption, len(pack.Assumptions))
	copy(cloned.Assumptions, pack.Assumptions)
	cloned.Scenarios = append([]Scenario(nil), pack.Scenarios...)
	if pack.Lineage != nil {
		lineage := *pack.Lineage
		cloned.Lineage = &lineage
	}
	return cloned
}
