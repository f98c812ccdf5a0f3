package domain

// RiskLimits holds the per-account risk configuration enforced before every
// order execution. Zero values disable the corresponding check, with one
// exception: an empty AllowedSymbols list means every symbol is allowed.
// Limit changes apply to future evaluations only; resolved orders are never
// re-evaluated.
type RiskLimits struct {
	MaxPositionSize   float64  // Max position notional as a fraction of equity (0 = unlimited)
	MaxDailyLoss      float64  // Max loss per UTC day in account currency (0 = unlimited)
	MaxDrawdown       float64  // Max peak-to-equity decline as a fraction (0 = unlimited)
	MaxLeverage       float64  // Notional / MaxLeverage must stay within cash (0 = unlimited)
	AllowedSymbols    []string // Whitelist; empty = all symbols
	StopLossEnabled   bool
	TakeProfitEnabled bool
}

// SymbolAllowed reports whether the symbol passes the whitelist.
func (r *RiskLimits) SymbolAllowed(symbol string) bool {
	if len(r.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range r.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the limits.
func (r *RiskLimits) Clone() RiskLimits {
	cp := *r
	if r.AllowedSymbols != nil {
		cp.AllowedSymbols = append([]string(nil), r.AllowedSymbols...)
	}
	return cp
}
