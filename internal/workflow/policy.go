package workflow

// Scope is an extra predicate a rule places on the actor beyond its role.
type Scope string

const (
	ScopeAny            Scope = "any"
	ScopeSameDepartment Scope = "same_department"
)

// Rule authorizes one role to move a request from one status to another.
type Rule struct {
	From        Status `json:"from" yaml:"from"`
	To          Status `json:"to" yaml:"to"`
	Role        Role   `json:"role" yaml:"role"`
	Scope       Scope  `json:"scope" yaml:"scope"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Satisfied reports whether the rule's scope condition holds for actor on req.
func (r Rule) Satisfied(actor Actor, req *ExpenseRequest) bool {
	switch r.Scope {
	case ScopeAny:
		return true
	case ScopeSameDepartment:
		return actor.Department != "" && actor.Department == req.RequesterDepartment
	}
	return false
}

var transitionTable = []Rule{
	{From: StatusPending, To: StatusApprovedByDepartment, Role: RoleSectionManager, Scope: ScopeSameDepartment,
		Description: "department-level approval"},
	{From: StatusPending, To: StatusWaitingExecutive, Role: RoleSectionManager, Scope: ScopeSameDepartment,
		Description: "forward to executive"},
	{From: StatusPending, To: StatusRejected, Role: RoleSectionManager, Scope: ScopeSameDepartment,
		Description: "department-level rejection"},
	{From: StatusWaitingExecutive, To: StatusApproved, Role: RoleManager, Scope: ScopeAny,
		Description: "executive approval"},
	{From: StatusWaitingExecutive, To: StatusRejected, Role: RoleManager, Scope: ScopeAny,
		Description: "executive rejection"},
	{From: StatusPending, To: StatusApproved, Role: RoleManager, Scope: ScopeAny,
		Description: "escalation override approval"},
	{From: StatusPending, To: StatusRejected, Role: RoleManager, Scope: ScopeAny,
		Description: "escalation override rejection"},
}

var defaultPolicy = NewPolicyTable(transitionTable)

// PolicyTable is the single source of truth for which transitions exist and
// who may trigger them. It is immutable after construction.
type PolicyTable struct {
	rules  []Rule
	byPair map[[2]Status][]Rule
}

func NewPolicyTable(rules []Rule) *PolicyTable {
	p := &PolicyTable{
		rules:  append([]Rule(nil), rules...),
		byPair: make(map[[2]Status][]Rule, len(rules)),
	}
	for _, r := range p.rules {
		key := [2]Status{r.From, r.To}
		p.byPair[key] = append(p.byPair[key], r)
	}
	return p
}

// DefaultPolicy returns the organization's two-tier approval table.
func DefaultPolicy() *PolicyTable {
	return defaultPolicy
}

func (p *PolicyTable) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Lookup returns every rule defined for the (from, to) pair.
func (p *PolicyTable) Lookup(from, to Status) []Rule {
	return p.byPair[[2]Status{from, to}]
}

// HasOutgoing reports whether any transition leaves from.
func (p *PolicyTable) HasOutgoing(from Status) bool {
	for _, r := range p.rules {
		if r.From == from {
			return true
		}
	}
	return false
}

// Grants reports whether role appears on any edge.
func (p *PolicyTable) Grants(role Role) bool {
	for _, r := range p.rules {
		if r.Role == role {
			return true
		}
	}
	return false
}

// ActionableStatuses lists the statuses from which role has at least one edge.
func (p *PolicyTable) ActionableStatuses(role Role) []Status {
	seen := make(map[Status]bool)
	var out []Status
	for _, r := range p.rules {
		if r.Role == role && !seen[r.From] {
			seen[r.From] = true
			out = append(out, r.From)
		}
	}
	return out
}
