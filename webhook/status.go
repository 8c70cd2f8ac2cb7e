package webhook

import "fmt"

/* DeliveryStatus represents the current state of a delivery
 * Follows the lifecycle: Pending -> Success/Failed/Exhausted
 */
type DeliveryStatus int

const (
	Pending DeliveryStatus = iota + 1
	Success
	Failed
	Exhausted
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// NewDeliveryStatus creates a DeliveryStatus from a string
// Unknown values map to the zero status, which filters treat as "any"
func NewDeliveryStatus(str string) DeliveryStatus {
	switch str {
	case "pending":
		return Pending
	case "success":
		return Success
	case "failed":
		return Failed
	case "exhausted":
		return Exhausted
	default:
		return 0
	}
}

// Validate checks if the status is valid
func (s DeliveryStatus) Validate() error {
	if s < Pending || s > Exhausted {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s DeliveryStatus) IsFinal() bool {
	return s == Success || s == Failed || s == Exhausted
}

func (s DeliveryStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *DeliveryStatus) UnmarshalText(b []byte) error {
	*s = NewDeliveryStatus(string(b))
	return nil
}
