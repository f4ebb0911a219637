package domain

// RiskAction is the outcome of a risk evaluation for one open position.
type RiskAction string

const (
	RiskActionHold      RiskAction = "hold"
	RiskActionReduce    RiskAction = "reduce"
	RiskActionClose     RiskAction = "close"
	RiskActionRebalance RiskAction = "rebalance"
)

// RiskCheckResult is the first non-hold verdict of the rule chain, or a hold
// when every rule passes. Severity runs 0 (benign) to 10 (liquidation risk).
type RiskCheckResult struct {
	Action   RiskAction
	Reason   string
	Severity int
}

// Hold is the zero-severity pass-through result.
func Hold() RiskCheckResult {
	return RiskCheckResult{Action: RiskActionHold}
}
