package ledger

import "strings"

// Status is the fulfilment state of an order.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
)

var statusOrder = []Status{StatusNew, StatusInProgress, StatusShipped, StatusDelivered}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if s.rank() < 0 {
		return "", Errorf(KindInvalidStatus, "parse status", "unknown order status %q", raw)
	}
	return s, nil
}

func (s Status) rank() int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Next returns the status following s and false when s is terminal.
func (s Status) Next() (Status, bool) {
	r := s.rank()
	if r < 0 || r == len(statusOrder)-1 {
		return "", false
	}
	return statusOrder[r+1], true
}

// CanAdvanceTo reports whether to is exactly one forward step from s, or s itself.
func (s Status) CanAdvanceTo(to Status) bool {
	if s == to {
		return true
	}
	next, ok := s.Next()
	return ok && next == to
}

// RefundStatus tracks a refund request independently of fulfilment.
type RefundStatus string

const (
	RefundNone       RefundStatus = "none"
	RefundRequested  RefundStatus = "requested"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
)

// ParseRefundStatus validates a raw refund status value.
func ParseRefundStatus(raw string) (RefundStatus, error) {
	switch r := RefundStatus(strings.TrimSpace(raw)); r {
	case RefundNone, RefundRequested, RefundProcessing, RefundCompleted:
		return r, nil
	default:
		return "", Errorf(KindInvalidRefundStatus, "parse refund status", "unknown refund status %q", raw)
	}
}
