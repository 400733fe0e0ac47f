package workflow

// Decision is the outcome of a successful validation.
type Decision struct {
	From Status
	To   Status
	Rule Rule
}

// Validator decides whether an actor may move a request to a target status.
// It performs no I/O and never mutates its inputs.
type Validator struct {
	policy *PolicyTable
}

func NewValidator(policy *PolicyTable) *Validator {
	if policy == nil {
		policy = defaultPolicy
	}
	return &Validator{policy: policy}
}

func (v *Validator) Policy() *PolicyTable {
	return v.policy
}

// Validate checks, in order: terminal source, pair present in the table,
// role listed for the pair, scope condition.
func (v *Validator) Validate(actor Actor, req *ExpenseRequest, target Status) (Decision, error) {
	if req == nil {
		return Decision{}, &TransitionError{Kind: KindNotFound, To: target, Role: actor.Role}
	}
	if !target.IsValid() {
		return Decision{}, newError(KindIllegalTransition, req, target, actor.Role, nil)
	}
	if req.Status.IsTerminal() {
		return Decision{}, newError(KindTerminalState, req, target, actor.Role, nil)
	}

	rules := v.policy.Lookup(req.Status, target)
	if len(rules) == 0 {
		return Decision{}, newError(KindIllegalTransition, req, target, actor.Role, nil)
	}

	var roleRules []Rule
	for _, r := range rules {
		if r.Role == actor.Role {
			roleRules = append(roleRules, r)
		}
	}
	if len(roleRules) == 0 {
		return Decision{}, newError(KindIllegalTransition, req, target, actor.Role, nil)
	}

	for _, r := range roleRules {
		if r.Satisfied(actor, req) {
			return Decision{From: req.Status, To: target, Rule: r}, nil
		}
	}
	return Decision{}, newError(KindForbiddenScope, req, target, actor.Role, nil)
}

// Authorizes reports whether some rule leading into target would admit actor
// for req, regardless of the request's current status. The engine uses it to
// recognise a harmless re-application of a transition that already happened.
func (v *Validator) Authorizes(actor Actor, req *ExpenseRequest, target Status) bool {
	for _, r := range v.policy.rules {
		if r.To == target && r.Role == actor.Role && r.Satisfied(actor, req) {
			return true
		}
	}
	return false
}

// AllowedTargets lists the statuses actor may move req to right now.
func (v *Validator) AllowedTargets(actor Actor, req *ExpenseRequest) []Status {
	out := []Status{}
	for _, target := range AllStatuses() {
		if _, err := v.Validate(actor, req, target); err == nil {
			out = append(out, target)
		}
	}
	return out
}

// CanView reports whether actor may read req: the requester, a section
// manager of the requester's department, or any manager.
func (v *Validator) CanView(actor Actor, req *ExpenseRequest) bool {
	switch {
	case req.IsRequester(actor):
		return true
	case actor.Role == RoleManager:
		return true
	case actor.Role == RoleSectionManager:
		return actor.Department != "" && actor.Department == req.RequesterDepartment
	}
	return false
}

// CheckEditable guards payload edits and withdrawals: only the requester,
// only while the request is still pending.
func (v *Validator) CheckEditable(actor Actor, req *ExpenseRequest) error {
	if !req.IsRequester(actor) {
		return newError(KindForbiddenScope, req, "", actor.Role, nil)
	}
	if req.Status.IsTerminal() {
		return newError(KindTerminalState, req, "", actor.Role, nil)
	}
	if req.Status != StatusPending {
		return newError(KindIllegalTransition, req, "", actor.Role, nil)
	}
	return nil
}
