package engine

// Status is the lifecycle state of an Instance.
type Status int

const (
	StatusCreated Status = iota
	StatusLoading
	StatusActive
	StatusShuttingDown
	StatusTerminated
)

var statusNames = [...]string{
	StatusCreated:      "Created",
	StatusLoading:      "Loading",
	StatusActive:       "Active",
	StatusShuttingDown: "ShuttingDown",
	StatusTerminated:   "Terminated",
}

// String returns the status name.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}
