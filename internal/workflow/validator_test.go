package workflow_test

import (
	"errors"
	"fmt"

	"github.com/frahmantamala/expense-approval/internal/workflow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// allowedEdge is an independent restatement of the approval rules used as the
// oracle for the exhaustive table below.
type allowedEdge struct {
	from, to       workflow.Status
	role           workflow.Role
	sameDepartment bool
}

var allowedEdges = []allowedEdge{
	{workflow.StatusPending, workflow.StatusApprovedByDepartment, workflow.RoleSectionManager, true},
	{workflow.StatusPending, workflow.StatusWaitingExecutive, workflow.RoleSectionManager, true},
	{workflow.StatusPending, workflow.StatusRejected, workflow.RoleSectionManager, true},
	{workflow.StatusPending, workflow.StatusApproved, workflow.RoleManager, false},
	{workflow.StatusPending, workflow.StatusRejected, workflow.RoleManager, false},
	{workflow.StatusWaitingExecutive, workflow.StatusApproved, workflow.RoleManager, false},
	{workflow.StatusWaitingExecutive, workflow.StatusRejected, workflow.RoleManager, false},
}

func expectedVerdict(from, to workflow.Status, actor workflow.Actor, requesterDept string) workflow.ErrorKind {
	if from.IsTerminal() {
		return workflow.KindTerminalState
	}
	for _, e := range allowedEdges {
		if e.from != from || e.to != to || e.role != actor.Role {
			continue
		}
		if !e.sameDepartment || actor.Department == requesterDept {
			return ""
		}
		return workflow.KindForbiddenScope
	}
	return workflow.KindIllegalTransition
}

func exhaustiveEntries() []interface{} {
	actors := []workflow.Actor{employee, financeSM, marketSM, executive}
	var entries []interface{}
	for _, from := range workflow.AllStatuses() {
		for _, to := range workflow.AllStatuses() {
			for _, actor := range actors {
				want := expectedVerdict(from, to, actor, "finance")
				desc := fmt.Sprintf("%s -> %s by %s/%s", from, to, actor.Role, actor.Department)
				entries = append(entries, Entry(desc, from, to, actor, want))
			}
		}
	}
	return entries
}

var _ = Describe("Validator", func() {
	validator := workflow.NewValidator(nil)

	DescribeTable("every (status, status, actor) combination",
		append([]interface{}{func(from, to workflow.Status, actor workflow.Actor, want workflow.ErrorKind) {
			req := newRequest(employee, from)

			decision, err := validator.Validate(actor, req, to)
			if want == "" {
				Expect(err).NotTo(HaveOccurred())
				Expect(decision.From).To(Equal(from))
				Expect(decision.To).To(Equal(to))
				Expect(decision.Rule.Role).To(Equal(actor.Role))
				return
			}
			expectKind(err, want)
			Expect(req.Status).To(Equal(from))
		}}, exhaustiveEntries()...)...,
	)

	It("rejects a target outside the defined states", func() {
		_, err := validator.Validate(executive, newRequest(employee, workflow.StatusPending), workflow.Status("paid"))
		expectKind(err, workflow.KindIllegalTransition)
	})

	It("carries the request and statuses on the error", func() {
		req := newRequest(employee, workflow.StatusPending)
		_, err := validator.Validate(marketSM, req, workflow.StatusRejected)

		var te *workflow.TransitionError
		Expect(errors.As(err, &te)).To(BeTrue())
		Expect(te.RequestID).To(Equal(req.ID))
		Expect(te.From).To(Equal(workflow.StatusPending))
		Expect(te.To).To(Equal(workflow.StatusRejected))
		Expect(te.Role).To(Equal(workflow.RoleSectionManager))
		Expect(err).To(MatchError(workflow.ErrForbiddenScope))
	})

	It("refuses a section manager without a department", func() {
		noDept := financeSM
		noDept.Department = ""
		req := newRequest(employee, workflow.StatusPending)
		req.RequesterDepartment = ""

		_, err := validator.Validate(noDept, req, workflow.StatusWaitingExecutive)
		expectKind(err, workflow.KindForbiddenScope)
	})

	Describe("AllowedTargets", func() {
		It("lists the section manager's options on a pending request", func() {
			req := newRequest(employee, workflow.StatusPending)
			Expect(validator.AllowedTargets(financeSM, req)).To(ConsistOf(
				workflow.StatusApprovedByDepartment, workflow.StatusWaitingExecutive, workflow.StatusRejected))
			Expect(validator.AllowedTargets(marketSM, req)).To(BeEmpty())
		})

		It("is empty for terminal requests", func() {
			req := newRequest(employee, workflow.StatusApproved)
			Expect(validator.AllowedTargets(executive, req)).To(BeEmpty())
		})
	})

	Describe("CanView", func() {
		req := newRequest(employee, workflow.StatusPending)

		It("admits the requester, same-department section managers and managers", func() {
			Expect(validator.CanView(employee, req)).To(BeTrue())
			Expect(validator.CanView(financeSM, req)).To(BeTrue())
			Expect(validator.CanView(executive, req)).To(BeTrue())
		})

		It("hides the request from other employees and departments", func() {
			other := employee
			other.ID = "emp-2"
			Expect(validator.CanView(other, req)).To(BeFalse())
			Expect(validator.CanView(marketSM, req)).To(BeFalse())
		})
	})

	Describe("CheckEditable", func() {
		It("allows the requester while pending", func() {
			Expect(validator.CheckEditable(employee, newRequest(employee, workflow.StatusPending))).To(Succeed())
		})

		It("refuses anybody else", func() {
			expectKind(validator.CheckEditable(financeSM, newRequest(employee, workflow.StatusPending)), workflow.KindForbiddenScope)
		})

		It("refuses once the request left pending", func() {
			expectKind(validator.CheckEditable(employee, newRequest(employee, workflow.StatusWaitingExecutive)), workflow.KindIllegalTransition)
			expectKind(validator.CheckEditable(employee, newRequest(employee, workflow.StatusRejected)), workflow.KindTerminalState)
		})
	})
})
