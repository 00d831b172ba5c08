package carrier

// Status is the canonical, carrier-independent shipment lifecycle state.
type Status string

const (
	StatusCreated        Status = "created"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusAtPickupPoint  Status = "at_pickup_point"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusFailed         Status = "failed"
	StatusReturned       Status = "returned"
)

// statusRank orders canonical states along the expected forward progression.
// at_pickup_point and out_for_delivery are alternates at the same rank.
// failed and returned are absorbing exception states and rank above every
// non-terminal state so they are never displaced by a late regular event.
var statusRank = map[Status]int{
	StatusCreated:        1,
	StatusPickedUp:       2,
	StatusInTransit:      3,
	StatusAtPickupPoint:  4,
	StatusOutForDelivery: 4,
	StatusDelivered:      5,
	StatusFailed:         6,
	StatusReturned:       6,
}

// Rank returns the position of s in the canonical ordering. Unknown states
// rank as in_transit.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return statusRank[StatusInTransit]
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusReturned:
		return true
	}
	return false
}

// ResolveStatus returns the status to display given the current one and a
// newly arrived event's status. Displayed status never regresses: out-of-order
// delivery keeps the highest-ranked state seen so far, even though the lower
// event is still appended to the log for audit.
func ResolveStatus(current, incoming Status) Status {
	if current == "" {
		return incoming
	}
	// A confirmed delivery is final. failed/returned absorb only from
	// non-terminal states; a late exception event stays in the log but
	// cannot displace delivered.
	if current == StatusDelivered {
		return current
	}
	if incoming.Rank() > current.Rank() {
		return incoming
	}
	return current
}

// CurrentStatus folds an event log into the displayed canonical status.
func CurrentStatus(events []*TrackingEvent) Status {
	var current Status
	for _, e := range events {
		current = ResolveStatus(current, e.Status)
	}
	return current
}

// NormalizeStatus maps a carrier-native status string to the canonical enum
// using the adapter-supplied table. Unknown native codes map to in_transit
// rather than being dropped; the native string stays on the event for audit.
func NormalizeStatus(table map[string]Status, native string) Status {
	if s, ok := table[native]; ok {
		return s
	}
	return StatusInTransit
}
