package domain

// Event names published on the in-process bus. External consumers see the
// same names on the Redis relay channels.
type Event string

const (
	EventOrderFilled    Event = "order_filled"
	EventOrderCancelled Event = "order_cancelled"
	EventBotStarted     Event = "bot_started"
	EventBotStopped     Event = "bot_stopped"
)

// NotifyCategory classifies a notification for filtering and titling.
type NotifyCategory string

const (
	NotifyOrderPlaced    NotifyCategory = "order_placed"
	NotifyOrderFilled    NotifyCategory = "order_filled"
	NotifyOrderCancelled NotifyCategory = "order_cancelled"
	NotifyOrderFailed    NotifyCategory = "order_failed"
	NotifyTakeProfit     NotifyCategory = "take_profit"
	NotifyStopLoss       NotifyCategory = "stop_loss"
	NotifyBotStatus      NotifyCategory = "bot_status"
	NotifyError          NotifyCategory = "error"
)

// LiquidationReason names the risk trigger that forced a liquidation.
type LiquidationReason string

const (
	LiquidationTakeProfit LiquidationReason = "take_profit"
	LiquidationStopLoss   LiquidationReason = "stop_loss"
)
