package domain

// Decision is the outcome of one strategy evaluation against a market
// snapshot. A NoAction decision carries only its reasoning; anything else
// describes exactly one market order the agent wants placed.
type Decision struct {
	NoAction   bool
	Side       OrderSide
	Symbol     string
	Quantity   float64
	StopLoss   float64 // Protective level to attach to the resulting position (0 = none)
	TakeProfit float64 // Protective level to attach to the resulting position (0 = none)
	Reasoning  string
	Confidence float64 // Strategy-reported confidence in [0,1]; informational
}

// Hold returns a no-action decision with the given reasoning.
func Hold(reasoning string) Decision {
	return Decision{NoAction: true, Reasoning: reasoning}
}
