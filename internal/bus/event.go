package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The prefix before the first dot is the namespace subscribers filter on.
const (
	KindMessageAppended   = "message.appended"
	KindSendAck           = "message.send_ack"
	KindSendFailed        = "message.send_failed"
	KindContactDiscovered = "contact.discovered"
	KindContactsChanged   = "contact.changed"
	KindUnreadChanged     = "unread.changed"
	KindNotification      = "notify.message"
	KindAccountsChanged   = "account.list_changed"
	KindAccountSelected   = "account.selected"
	KindStatusChanged     = "session.status_changed"
	KindNotice            = "session.notice"
	KindRealtimeConnected = "realtime.connected"
	KindRealtimeLost      = "realtime.disconnected"
	KindSyncCompleted     = "sync.completed"
)

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
