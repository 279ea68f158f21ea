package engine

// NotificationKind identifies a one-shot notification for the desktop.
type NotificationKind string

const (
	NotificationDayTransition NotificationKind = "DAY_TRANSITION"
	NotificationGameEnded     NotificationKind = "GAME_ENDED"
)

// Notification is an outbox entry. It stays pending until acknowledged or
// drained, so a late client still sees it exactly once.
type Notification struct {
	ID           string           `json:"id"`
	Kind         NotificationKind `json:"kind"`
	Day          int              `json:"day"`
	Title        string           `json:"title"`
	Text         string           `json:"text"`
	ElapsedHours float64          `json:"created_at_hours"`
}

// outbox is guarded by the owning Session's mutex.
type outbox struct {
	pending []Notification
}

func (o *outbox) push(n Notification) {
	o.pending = append(o.pending, n)
}

func (o *outbox) list() []Notification {
	out := make([]Notification, len(o.pending))
	copy(out, o.pending)
	return out
}

func (o *outbox) ack(id string) bool {
	for i, n := range o.pending {
		if n.ID == id {
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (o *outbox) drain() []Notification {
	out := o.pending
	o.pending = nil
	if out == nil {
		return []Notification{}
	}
	return out
}

func (o *outbox) reset() {
	o.pending = nil
}
