package webhook

import "fmt"

/* EndpointStatus represents whether an endpoint receives deliveries
 * Only EndpointActive endpoints are matched against emitted events
 */
type EndpointStatus int

const (
	EndpointActive EndpointStatus = iota + 1
	EndpointInactive
	EndpointError
	EndpointSuspended
)

// String returns the string representation of the endpoint status
func (s EndpointStatus) String() string {
	switch s {
	case EndpointActive:
		return "active"
	case EndpointInactive:
		return "inactive"
	case EndpointError:
		return "error"
	case EndpointSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// NewEndpointStatus creates an EndpointStatus from a string
func NewEndpointStatus(s string) EndpointStatus {
	switch s {
	case "active":
		return EndpointActive
	case "inactive":
		return EndpointInactive
	case "error":
		return EndpointError
	case "suspended":
		return EndpointSuspended
	default:
		return EndpointInactive
	}
}

// Validate checks if the endpoint status is valid
func (s EndpointStatus) Validate() error {
	if s < EndpointActive || s > EndpointSuspended {
		return fmt.Errorf("invalid endpoint status: %d", s)
	}
	return nil
}

func (s EndpointStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *EndpointStatus) UnmarshalText(b []byte) error {
	*s = NewEndpointStatus(string(b))
	return nil
}
