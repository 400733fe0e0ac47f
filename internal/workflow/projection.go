package workflow

import "time"

// Tentative is a locally projected transition awaiting the engine's verdict.
type Tentative struct {
	Base      *ExpenseRequest
	Projected *ExpenseRequest
	Decision  Decision
}

// Project validates a transition without I/O and returns the snapshot the
// engine would produce if nothing changes in the meantime.
func Project(v *Validator, actor Actor, req *ExpenseRequest, target Status, comment string) (*Tentative, error) {
	if v == nil {
		v = NewValidator(nil)
	}
	if req != nil && req.Status == target && v.Authorizes(actor, req, target) {
		return &Tentative{
			Base:      req.Clone(),
			Projected: req.Clone(),
			Decision:  Decision{From: req.Status, To: target},
		}, nil
	}

	decision, err := v.Validate(actor, req, target)
	if err != nil {
		return nil, err
	}
	return &Tentative{
		Base:      req.Clone(),
		Projected: req.withTransition(target, comment, req.Version+1, time.Now().UTC()),
		Decision:  decision,
	}, nil
}

// Reconcile settles the projection against the authoritative outcome: the
// engine's snapshot on success, the base snapshot on failure.
func (t *Tentative) Reconcile(result *ExpenseRequest, err error) *ExpenseRequest {
	if err != nil || result == nil {
		return t.Base.Clone()
	}
	return result.Clone()
}
