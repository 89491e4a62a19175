package domain

// Realtime channels.
const (
	ChannelKitchen = "kitchen"
	ChannelOrders  = "orders"
)

// Realtime event names. Payloads are hints; receivers refetch over REST.
const (
	EventNewOrder           = "new-order"
	EventItemStatusUpdated  = "item-status-updated"
	EventTableStatusUpdated = "table-status-updated"
	EventTablesMerged       = "tables-merged"
	EventTablesSplit        = "tables-split"
	EventOrderUpdated       = "order-updated"
	EventBillUpdated        = "bill-updated"
)

// Notifier fans out wake-up signals. Publish must never block.
type Notifier interface {
	Publish(channel, event string, hint map[string]any)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Publish(string, string, map[string]any) {}
