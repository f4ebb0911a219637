package notify

// Event classifies an outbound alert. The dispatcher's subscription filter
// matches against these values; config lists them by their string form.
type Event string

const (
	EventOpportunityFound    Event = "opportunity-found"
	EventTradeOpened         Event = "trade-opened"
	EventTradeClosed         Event = "trade-closed"
	EventRiskAlert           Event = "risk-alert"
	EventReconciliationAlert Event = "reconciliation-alert"
)
