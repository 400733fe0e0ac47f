package expense_test

import (
	"context"

	"github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Service", func() {
	var (
		f   *fixture
		ctx context.Context
	)

	BeforeEach(func() {
		f = newFixture()
		ctx = context.Background()
	})

	Describe("Submit", func() {
		It("creates a pending request owned by the caller", func() {
			// When
			view, err := f.service.Submit(ctx, requester, expense.SubmitRequestDTO{
				Title:       "Client dinner",
				Description: "Quarterly review",
				ExpenseType: "meals",
				Amount:      750000,
				Attachments: []string{"receipt.jpg"},
			})

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(view.ID).ToNot(BeEmpty())
			Expect(view.Status).To(Equal(workflow.StatusPending))
			Expect(view.Version).To(Equal(int64(1)))
			Expect(view.RequesterID).To(Equal(requester.ID))
			Expect(view.RequesterDepartment).To(Equal("finance"))
			Expect(view.RequesterName).To(Equal("Rina"))
			Expect(view.Attachments).To(Equal([]string{"receipt.jpg"}))
			Expect(view.AllowedTransitions).To(BeEmpty())

			stored, err := f.store.GetByID(ctx, view.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.Title).To(Equal("Client dinner"))
			Expect(f.publisher.types()).To(Equal([]string{events.EventTypeRequestSubmitted}))
		})

		It("rejects an invalid payload without writing", func() {
			_, err := f.service.Submit(ctx, requester, expense.SubmitRequestDTO{Title: "", Amount: 0})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
			Expect(appErr.Details).To(BeAssignableToTypeOf(internal.ValidationErrors{}))
			Expect(appErr.Details.(internal.ValidationErrors).Errors).To(HaveLen(2))

			_, total, err := f.store.List(ctx, expense.ListFilter{})
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(BeZero())
			Expect(f.publisher.types()).To(BeEmpty())
		})

		It("refuses an unresolved caller", func() {
			_, err := f.service.Submit(ctx, workflow.Actor{}, expense.SubmitRequestDTO{Title: "Taxi", Amount: 1})
			expectKind(err, workflow.KindUnauthenticated)
		})
	})

	Describe("Get", func() {
		var id string

		BeforeEach(func() {
			id = f.submit(requester, "Hotel", 1200000).ID
		})

		DescribeTable("read visibility",
			func(actor workflow.Actor, visible bool) {
				view, err := f.service.Get(ctx, actor, id)
				if visible {
					Expect(err).ToNot(HaveOccurred())
					Expect(view.ID).To(Equal(id))
					return
				}
				expectKind(err, workflow.KindForbiddenScope)
			},
			Entry("the requester", requester, true),
			Entry("a section manager of the same department", financeLead, true),
			Entry("any manager", director, true),
			Entry("another employee of the same department", colleague, false),
			Entry("a section manager of another department", marketLead, false),
		)

		It("lists the transitions the caller may request", func() {
			view, err := f.service.Get(ctx, financeLead, id)
			Expect(err).ToNot(HaveOccurred())
			Expect(view.AllowedTransitions).To(ConsistOf(
				workflow.StatusApprovedByDepartment,
				workflow.StatusWaitingExecutive,
				workflow.StatusRejected,
			))

			view, err = f.service.Get(ctx, director, id)
			Expect(err).ToNot(HaveOccurred())
			Expect(view.AllowedTransitions).To(ConsistOf(workflow.StatusApproved, workflow.StatusRejected))
		})

		It("reports NotFound for unknown ids", func() {
			_, err := f.service.Get(ctx, director, "missing")
			expectKind(err, workflow.KindNotFound)
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			f.submit(requester, "Hotel", 1200000)
			f.submit(colleague, "Taxi", 85000)
			f.submit(outsider, "Banner print", 400000)
		})

		It("limits employees to their own requests", func() {
			result, err := f.service.List(ctx, requester, expense.ListQuery{})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Total).To(Equal(int64(1)))
			Expect(result.Requests[0].RequesterID).To(Equal(requester.ID))
			Expect(result.Limit).To(Equal(expense.DefaultPageSize))
		})

		It("scopes section managers to their department", func() {
			result, err := f.service.List(ctx, financeLead, expense.ListQuery{})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Total).To(Equal(int64(2)))
			for _, req := range result.Requests {
				Expect(req.RequesterDepartment).To(Equal("finance"))
			}
		})

		It("shows managers everything and honours the status filter", func() {
			result, err := f.service.List(ctx, director, expense.ListQuery{})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Total).To(Equal(int64(3)))

			f.move(director, result.Requests[0].ID, workflow.StatusRejected)

			result, err = f.service.List(ctx, director, expense.ListQuery{Status: string(workflow.StatusRejected)})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Total).To(Equal(int64(1)))
			Expect(result.Requests[0].Status).To(Equal(workflow.StatusRejected))
		})

		It("never widens a section manager without a department to the whole organisation", func() {
			unscoped := workflow.Actor{ID: "sm-x", Role: workflow.RoleSectionManager}
			f.submit(workflow.Actor{ID: "emp-ops", Role: workflow.RoleEmployee, Department: "ops"}, "Forklift rental", 900000)

			_, err := f.service.List(ctx, unscoped, expense.ListQuery{})
			expectKind(err, workflow.KindUnauthenticated)

			_, err = f.service.Inbox(ctx, unscoped, expense.ListQuery{})
			expectKind(err, workflow.KindUnauthenticated)

			_, err = f.service.Summary(ctx, unscoped, false)
			expectKind(err, workflow.KindUnauthenticated)
		})

		It("rejects a limit above the page maximum", func() {
			_, err := f.service.List(ctx, director, expense.ListQuery{Limit: 101})
			_, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
		})

		It("rejects an unknown status filter", func() {
			_, err := f.service.List(ctx, director, expense.ListQuery{Status: "paid"})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Error()).To(ContainSubstring("status must be one of"))
		})
	})

	Describe("Inbox", func() {
		var financeReq, marketReq string

		BeforeEach(func() {
			financeReq = f.submit(requester, "Hotel", 1200000).ID
			marketReq = f.submit(outsider, "Banner print", 400000).ID
		})

		It("shows section managers the pending requests of their department", func() {
			result, err := f.service.Inbox(ctx, financeLead, expense.ListQuery{})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Requests).To(HaveLen(1))
			Expect(result.Requests[0].ID).To(Equal(financeReq))
			Expect(result.Total).To(Equal(int64(1)))
		})

		It("shows managers pending and escalated requests everywhere", func() {
			f.move(marketLead, marketReq, workflow.StatusWaitingExecutive)

			result, err := f.service.Inbox(ctx, director, expense.ListQuery{})
			Expect(err).ToNot(HaveOccurred())
			ids := []string{}
			for _, req := range result.Requests {
				ids = append(ids, req.ID)
			}
			Expect(ids).To(ConsistOf(financeReq, marketReq))
		})

		It("drops requests once they are decided", func() {
			f.move(financeLead, financeReq, workflow.StatusApprovedByDepartment)

			result, err := f.service.Inbox(ctx, financeLead, expense.ListQuery{})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Requests).To(BeEmpty())
		})

		It("has nothing for employees", func() {
			_, err := f.service.Inbox(ctx, requester, expense.ListQuery{})
			expectKind(err, workflow.KindForbiddenScope)
		})
	})

	Describe("Summary", func() {
		BeforeEach(func() {
			hotel := f.submit(requester, "Hotel", 1200000).ID
			taxi := f.submit(colleague, "Taxi", 85000).ID
			f.submit(colleague, "Lunch", 150000)
			banner := f.submit(outsider, "Banner print", 400000).ID

			f.move(financeLead, hotel, workflow.StatusApprovedByDepartment)
			f.move(financeLead, taxi, workflow.StatusRejected)
			f.move(marketLead, banner, workflow.StatusWaitingExecutive)
			f.move(director, banner, workflow.StatusApproved)
		})

		totalsOf := func(summary *expense.Summary, status workflow.Status) expense.StatusTotals {
			for _, t := range summary.ByStatus {
				if t.Status == status {
					return t
				}
			}
			Fail("status missing from summary: " + string(status))
			return expense.StatusTotals{}
		}

		It("aggregates a section manager's department", func() {
			summary, err := f.service.Summary(ctx, financeLead, false)
			Expect(err).ToNot(HaveOccurred())

			Expect(summary.ByStatus).To(HaveLen(len(workflow.AllStatuses())))
			Expect(summary.TotalCount).To(Equal(int64(3)))
			Expect(summary.TotalAmount).To(Equal(int64(1435000)))
			Expect(summary.ApprovedCount).To(Equal(int64(1)))
			Expect(summary.ApprovedAmount).To(Equal(int64(1200000)))
			Expect(totalsOf(summary, workflow.StatusPending)).To(Equal(expense.StatusTotals{Status: workflow.StatusPending, Count: 1, Amount: 150000}))
			Expect(totalsOf(summary, workflow.StatusWaitingExecutive).Count).To(BeZero())
		})

		It("limits employees to their own requests", func() {
			summary, err := f.service.Summary(ctx, colleague, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(summary.TotalCount).To(Equal(int64(2)))
			Expect(summary.ApprovedAmount).To(BeZero())
			Expect(totalsOf(summary, workflow.StatusRejected).Amount).To(Equal(int64(85000)))
		})

		It("covers everything for managers unless they ask for their own", func() {
			summary, err := f.service.Summary(ctx, director, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(summary.TotalCount).To(Equal(int64(4)))
			Expect(summary.ApprovedCount).To(Equal(int64(2)))
			Expect(summary.ApprovedAmount).To(Equal(int64(1600000)))

			summary, err = f.service.Summary(ctx, director, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(summary.TotalCount).To(BeZero())
		})

		It("ignores withdrawn requests", func() {
			view := f.submit(requester, "Parking", 20000)
			Expect(f.service.Withdraw(ctx, requester, view.ID, view.Version)).To(Succeed())

			summary, err := f.service.Summary(ctx, requester, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(summary.TotalCount).To(Equal(int64(1)))
		})
	})

	Describe("Update", func() {
		var id string

		BeforeEach(func() {
			id = f.submit(requester, "Hotel", 1200000).ID
		})

		It("patches the payload and bumps the version", func() {
			title := "Hotel, two nights"
			amount := int64(2400000)

			view, err := f.service.Update(ctx, requester, id, expense.UpdateRequestDTO{Version: 1, Title: &title, Amount: &amount})

			Expect(err).ToNot(HaveOccurred())
			Expect(view.Version).To(Equal(int64(2)))
			Expect(view.Title).To(Equal(title))
			Expect(view.Amount).To(Equal(amount))
			Expect(view.Status).To(Equal(workflow.StatusPending))

			stored, err := f.store.GetByID(ctx, id)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.Version).To(Equal(int64(2)))
			Expect(stored.RequesterID).To(Equal(requester.ID))
			Expect(f.publisher.types()).To(ContainElement(events.EventTypeRequestUpdated))
		})

		It("refuses a stale client version", func() {
			title := "Renamed"
			_, err := f.service.Update(ctx, requester, id, expense.UpdateRequestDTO{Version: 1, Title: &title})
			Expect(err).ToNot(HaveOccurred())

			_, err = f.service.Update(ctx, requester, id, expense.UpdateRequestDTO{Version: 1, Title: &title})
			expectKind(err, workflow.KindStaleVersion)
		})

		It("is reserved for the requester", func() {
			title := "Hijacked"
			_, err := f.service.Update(ctx, financeLead, id, expense.UpdateRequestDTO{Version: 1, Title: &title})
			expectKind(err, workflow.KindForbiddenScope)
		})

		It("is refused once the request left pending", func() {
			f.move(financeLead, id, workflow.StatusWaitingExecutive)

			title := "Too late"
			_, err := f.service.Update(ctx, requester, id, expense.UpdateRequestDTO{Version: 2, Title: &title})
			expectKind(err, workflow.KindIllegalTransition)
		})

		It("reports TerminalState on a decided request", func() {
			f.move(director, id, workflow.StatusApproved)

			title := "Too late"
			_, err := f.service.Update(ctx, requester, id, expense.UpdateRequestDTO{Version: 2, Title: &title})
			expectKind(err, workflow.KindTerminalState)
		})
	})

	Describe("Withdraw", func() {
		var id string

		BeforeEach(func() {
			id = f.submit(requester, "Hotel", 1200000).ID
		})

		It("hides the request from every later operation", func() {
			Expect(f.service.Withdraw(ctx, requester, id, 1)).To(Succeed())

			_, err := f.service.Get(ctx, requester, id)
			expectKind(err, workflow.KindNotFound)

			_, err = f.service.Transition(ctx, financeLead, id, expense.TransitionDTO{TargetStatus: string(workflow.StatusRejected)})
			expectKind(err, workflow.KindNotFound)
			Expect(f.publisher.types()).To(ContainElement(events.EventTypeRequestWithdrawn))
		})

		It("needs the current version", func() {
			err := f.service.Withdraw(ctx, requester, id, 4)
			expectKind(err, workflow.KindStaleVersion)
		})

		It("rejects a missing version", func() {
			err := f.service.Withdraw(ctx, requester, id, 0)
			_, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
		})

		It("is reserved for the requester", func() {
			err := f.service.Withdraw(ctx, director, id, 1)
			expectKind(err, workflow.KindForbiddenScope)
		})
	})

	Describe("Transition", func() {
		var id string

		BeforeEach(func() {
			id = f.submit(requester, "Conference ticket", 3500000).ID
		})

		It("walks the escalation path and records every step", func() {
			view := f.move(financeLead, id, workflow.StatusWaitingExecutive)
			Expect(view.Status).To(Equal(workflow.StatusWaitingExecutive))
			Expect(view.Version).To(Equal(int64(2)))

			view, err := f.service.Transition(ctx, director, id, expense.TransitionDTO{
				TargetStatus: string(workflow.StatusApproved),
				Comment:      "approved for Q3 budget",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(view.Status).To(Equal(workflow.StatusApproved))
			Expect(view.DecisionComment).To(Equal("approved for Q3 budget"))
			Expect(view.AllowedTransitions).To(BeEmpty())

			history, err := f.service.History(ctx, requester, id)
			Expect(err).ToNot(HaveOccurred())
			Expect(history).To(HaveLen(3))
			Expect(history[0].Kind).To(Equal(workflow.ChangeCreated))
			Expect(history[1].ToStatus).To(Equal(workflow.StatusWaitingExecutive))
			Expect(history[2].ToStatus).To(Equal(workflow.StatusApproved))
			Expect(history[2].ActorID).To(Equal(director.ID))

			Expect(f.publisher.types()).To(Equal([]string{
				events.EventTypeRequestSubmitted,
				events.EventTypeRequestTransitioned,
				events.EventTypeRequestTransitioned,
			}))
		})

		It("surfaces the engine's verdict", func() {
			_, err := f.service.Transition(ctx, marketLead, id, expense.TransitionDTO{TargetStatus: string(workflow.StatusRejected)})
			expectKind(err, workflow.KindForbiddenScope)

			_, err = f.service.Transition(ctx, requester, id, expense.TransitionDTO{TargetStatus: string(workflow.StatusApproved)})
			expectKind(err, workflow.KindIllegalTransition)
		})

		It("validates the target status before reaching the engine", func() {
			_, err := f.service.Transition(ctx, director, id, expense.TransitionDTO{TargetStatus: "paid"})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
		})

		Context("as a dry run", func() {
			It("projects the outcome without writing", func() {
				view, err := f.service.Transition(ctx, financeLead, id, expense.TransitionDTO{
					TargetStatus: string(workflow.StatusApprovedByDepartment),
					Comment:      "fine",
					DryRun:       true,
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(view.Projected).To(BeTrue())
				Expect(view.Status).To(Equal(workflow.StatusApprovedByDepartment))

				stored, err := f.store.GetByID(ctx, id)
				Expect(err).ToNot(HaveOccurred())
				Expect(stored.Status).To(Equal(workflow.StatusPending))
				Expect(stored.Version).To(Equal(int64(1)))
				Expect(f.publisher.types()).To(Equal([]string{events.EventTypeRequestSubmitted}))
			})

			It("reports the same rejection as the real call", func() {
				_, err := f.service.Transition(ctx, marketLead, id, expense.TransitionDTO{
					TargetStatus: string(workflow.StatusRejected),
					DryRun:       true,
				})
				expectKind(err, workflow.KindForbiddenScope)
			})
		})
	})

	Describe("History", func() {
		It("follows read visibility", func() {
			id := f.submit(requester, "Hotel", 1200000).ID

			_, err := f.service.History(ctx, outsider, id)
			expectKind(err, workflow.KindForbiddenScope)

			history, err := f.service.History(ctx, financeLead, id)
			Expect(err).ToNot(HaveOccurred())
			Expect(history).To(HaveLen(1))
		})
	})
})
