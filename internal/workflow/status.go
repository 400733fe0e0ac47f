package workflow

// Status is the single field of an ExpenseRequest governed by the engine.
type Status string

const (
	StatusPending              Status = "pending"
	StatusApprovedByDepartment Status = "approved_by_department"
	StatusWaitingExecutive     Status = "waiting_executive"
	StatusApproved             Status = "approved"
	StatusRejected             Status = "rejected"
)

var validStatuses = map[Status]bool{
	StatusPending:              true,
	StatusApprovedByDepartment: true,
	StatusWaitingExecutive:     true,
	StatusApproved:             true,
	StatusRejected:             true,
}

// approved_by_department has no outgoing edge and is treated as terminal
// until product decides what a department-only approval means.
var terminalStatuses = map[Status]bool{
	StatusApprovedByDepartment: true,
	StatusApproved:             true,
	StatusRejected:             true,
}

// AllStatuses returns every defined status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusApprovedByDepartment,
		StatusWaitingExecutive,
		StatusApproved,
		StatusRejected,
	}
}

func (s Status) IsValid() bool {
	return validStatuses[s]
}

func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsApproval reports whether s ends the request as approved, by the
// department or by the executive.
func (s Status) IsApproval() bool {
	return s == StatusApproved || s == StatusApprovedByDepartment
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus returns the status named by s, or false when s is not a defined state.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.IsValid()
}
