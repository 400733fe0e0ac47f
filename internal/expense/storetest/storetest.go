// Package storetest holds the behaviour every expense.Store must share. Store
// packages run it from their own suites.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	alice = workflow.Actor{ID: "emp-alice", Name: "Alice", Role: workflow.RoleEmployee, Department: "finance"}
	bob   = workflow.Actor{ID: "emp-bob", Name: "Bob", Role: workflow.RoleEmployee, Department: "sales"}
)

func newRequest(owner workflow.Actor, title string, at time.Time) *workflow.ExpenseRequest {
	return workflow.NewRequest(owner, workflow.Payload{
		Title:       title,
		ExpenseType: "travel",
		Amount:      125000,
		Attachments: []string{"receipt.pdf"},
	}, at)
}

// DescribeStore registers the shared store contract. newStore is called
// before every spec and must return an empty store.
func DescribeStore(name string, newStore func() expense.Store) bool {
	return Describe(name+" store contract", func() {
		var (
			ctx   context.Context
			store expense.Store
			base  time.Time
			req   *workflow.ExpenseRequest
		)

		BeforeEach(func() {
			ctx = context.Background()
			store = newStore()
			base = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
			req = newRequest(alice, "Train to Bandung", base)
			Expect(store.Create(ctx, req)).To(Succeed())
		})

		transition := func(expected int64, from, to workflow.Status) (int64, error) {
			return store.CompareAndSwapStatus(ctx, workflow.StatusChange{
				RequestID:       req.ID,
				ExpectedVersion: expected,
				From:            from,
				To:              to,
				Comment:         "checked",
				ActorID:         "sm-1",
				At:              base.Add(time.Minute),
			})
		}

		Describe("GetByID", func() {
			It("returns the stored request", func() {
				got, err := store.GetByID(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal(req.ID))
				Expect(got.RequesterID).To(Equal(alice.ID))
				Expect(got.RequesterDepartment).To(Equal("finance"))
				Expect(got.Title).To(Equal("Train to Bandung"))
				Expect(got.Amount).To(Equal(int64(125000)))
				Expect(got.Attachments).To(Equal([]string{"receipt.pdf"}))
				Expect(got.Status).To(Equal(workflow.StatusPending))
				Expect(got.Version).To(Equal(int64(1)))
				Expect(got.CreatedAt).To(BeTemporally("~", base, time.Second))
			})

			It("reports a missing request", func() {
				_, err := store.GetByID(ctx, "missing")
				Expect(err).To(MatchError(workflow.ErrRequestNotFound))
			})
		})

		Describe("CompareAndSwapStatus", func() {
			It("writes the status and bumps the version", func() {
				version, err := transition(1, workflow.StatusPending, workflow.StatusWaitingExecutive)
				Expect(err).NotTo(HaveOccurred())
				Expect(version).To(Equal(int64(2)))

				got, err := store.GetByID(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(workflow.StatusWaitingExecutive))
				Expect(got.DecisionComment).To(Equal("checked"))
				Expect(got.Version).To(Equal(int64(2)))
			})

			It("refuses a stale version without writing", func() {
				_, err := transition(1, workflow.StatusPending, workflow.StatusWaitingExecutive)
				Expect(err).NotTo(HaveOccurred())

				_, err = transition(1, workflow.StatusPending, workflow.StatusRejected)
				Expect(err).To(MatchError(workflow.ErrVersionMismatch))

				got, err := store.GetByID(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(workflow.StatusWaitingExecutive))

				history, err := store.History(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(history).To(HaveLen(2))
			})

			It("lets exactly one of two racing writers win", func() {
				targets := []workflow.Status{workflow.StatusWaitingExecutive, workflow.StatusRejected}
				start := make(chan struct{})
				type outcome struct {
					target  workflow.Status
					version int64
					err     error
				}
				results := make(chan outcome, len(targets))

				var wg sync.WaitGroup
				for _, target := range targets {
					wg.Add(1)
					go func(target workflow.Status) {
						defer GinkgoRecover()
						defer wg.Done()
						<-start
						version, err := transition(1, workflow.StatusPending, target)
						results <- outcome{target: target, version: version, err: err}
					}(target)
				}
				close(start)
				wg.Wait()
				close(results)

				var winners, losers []outcome
				for r := range results {
					if r.err == nil {
						winners = append(winners, r)
						continue
					}
					Expect(r.err).To(MatchError(workflow.ErrVersionMismatch))
					losers = append(losers, r)
				}
				Expect(winners).To(HaveLen(1))
				Expect(losers).To(HaveLen(1))
				Expect(winners[0].version).To(Equal(int64(2)))

				got, err := store.GetByID(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(winners[0].target))
				Expect(got.Version).To(Equal(int64(2)))

				history, err := store.History(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(history).To(HaveLen(2))
			})

			It("reports a missing request", func() {
				_, err := store.CompareAndSwapStatus(ctx, workflow.StatusChange{RequestID: "missing", ExpectedVersion: 1, To: workflow.StatusRejected})
				Expect(err).To(MatchError(workflow.ErrRequestNotFound))
			})
		})

		Describe("UpdatePayload", func() {
			It("replaces the payload under the version condition", func() {
				payload := req.Payload
				payload.Title = "Train to Bandung (return)"
				payload.Amount = 250000
				payload.Attachments = []string{"outbound.pdf", "return.pdf"}

				version, err := store.UpdatePayload(ctx, req.ID, 1, payload, alice.ID, base.Add(time.Hour))
				Expect(err).NotTo(HaveOccurred())
				Expect(version).To(Equal(int64(2)))

				got, err := store.GetByID(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Title).To(Equal("Train to Bandung (return)"))
				Expect(got.Amount).To(Equal(int64(250000)))
				Expect(got.Attachments).To(Equal([]string{"outbound.pdf", "return.pdf"}))
				Expect(got.Status).To(Equal(workflow.StatusPending))

				_, err = store.UpdatePayload(ctx, req.ID, 1, payload, alice.ID, base.Add(time.Hour))
				Expect(err).To(MatchError(workflow.ErrVersionMismatch))
			})
		})

		Describe("SoftDelete", func() {
			It("hides the request from reads and writes", func() {
				Expect(store.SoftDelete(ctx, req.ID, 1, alice.ID, base.Add(time.Hour))).To(Succeed())

				_, err := store.GetByID(ctx, req.ID)
				Expect(err).To(MatchError(workflow.ErrRequestNotFound))

				_, err = transition(2, workflow.StatusPending, workflow.StatusRejected)
				Expect(err).To(MatchError(workflow.ErrRequestNotFound))

				list, total, err := store.List(ctx, expense.ListFilter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(BeEmpty())
				Expect(total).To(BeZero())

				history, err := store.History(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(history[len(history)-1].Kind).To(Equal(workflow.ChangeWithdrawn))
			})

			It("refuses a stale version", func() {
				Expect(store.SoftDelete(ctx, req.ID, 5, alice.ID, base)).To(MatchError(workflow.ErrVersionMismatch))
			})
		})

		Describe("List", func() {
			BeforeEach(func() {
				for i, title := range []string{"Hotel", "Taxi", "Dinner"} {
					r := newRequest(bob, title, base.Add(time.Duration(i+1)*time.Minute))
					Expect(store.Create(ctx, r)).To(Succeed())
				}
			})

			It("orders newest first and reports the total", func() {
				list, total, err := store.List(ctx, expense.ListFilter{Limit: 2})
				Expect(err).NotTo(HaveOccurred())
				Expect(total).To(Equal(int64(4)))
				Expect(list).To(HaveLen(2))
				Expect(list[0].Title).To(Equal("Dinner"))
				Expect(list[1].Title).To(Equal("Taxi"))

				page, _, err := store.List(ctx, expense.ListFilter{Limit: 2, Offset: 2})
				Expect(err).NotTo(HaveOccurred())
				Expect(page).To(HaveLen(2))
				Expect(page[1].Title).To(Equal("Train to Bandung"))
			})

			It("filters by requester, department and status", func() {
				mine, total, err := store.List(ctx, expense.ListFilter{RequesterID: alice.ID})
				Expect(err).NotTo(HaveOccurred())
				Expect(total).To(Equal(int64(1)))
				Expect(mine[0].ID).To(Equal(req.ID))

				_, total, err = store.List(ctx, expense.ListFilter{Department: "sales"})
				Expect(err).NotTo(HaveOccurred())
				Expect(total).To(Equal(int64(3)))

				_, err = transition(1, workflow.StatusPending, workflow.StatusWaitingExecutive)
				Expect(err).NotTo(HaveOccurred())
				waiting, total, err := store.List(ctx, expense.ListFilter{Statuses: []workflow.Status{workflow.StatusWaitingExecutive}})
				Expect(err).NotTo(HaveOccurred())
				Expect(total).To(Equal(int64(1)))
				Expect(waiting[0].ID).To(Equal(req.ID))
			})
		})

		Describe("Summary", func() {
			BeforeEach(func() {
				for i, amount := range []int64{40000, 60000} {
					r := newRequest(bob, "Taxi", base.Add(time.Duration(i+1)*time.Minute))
					r.Amount = amount
					Expect(store.Create(ctx, r)).To(Succeed())
				}
				_, err := transition(1, workflow.StatusPending, workflow.StatusRejected)
				Expect(err).NotTo(HaveOccurred())
			})

			It("counts and sums per status", func() {
				totals, err := store.Summary(ctx, expense.ListFilter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(totals).To(ConsistOf(
					expense.StatusTotals{Status: workflow.StatusPending, Count: 2, Amount: 100000},
					expense.StatusTotals{Status: workflow.StatusRejected, Count: 1, Amount: 125000},
				))
			})

			It("applies the scope of the filter and skips deleted requests", func() {
				totals, err := store.Summary(ctx, expense.ListFilter{Department: "sales"})
				Expect(err).NotTo(HaveOccurred())
				Expect(totals).To(ConsistOf(expense.StatusTotals{Status: workflow.StatusPending, Count: 2, Amount: 100000}))

				Expect(store.SoftDelete(ctx, req.ID, 2, alice.ID, base.Add(time.Hour))).To(Succeed())
				totals, err = store.Summary(ctx, expense.ListFilter{RequesterID: alice.ID})
				Expect(err).NotTo(HaveOccurred())
				Expect(totals).To(BeEmpty())
			})
		})

		Describe("change feed", func() {
			It("records every change in order", func() {
				_, err := transition(1, workflow.StatusPending, workflow.StatusWaitingExecutive)
				Expect(err).NotTo(HaveOccurred())

				history, err := store.History(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(history).To(HaveLen(2))
				Expect(history[0].Kind).To(Equal(workflow.ChangeCreated))
				Expect(history[0].Version).To(Equal(int64(1)))
				Expect(history[1].Kind).To(Equal(workflow.ChangeTransitioned))
				Expect(history[1].FromStatus).To(Equal(workflow.StatusPending))
				Expect(history[1].ToStatus).To(Equal(workflow.StatusWaitingExecutive))
				Expect(history[1].ActorID).To(Equal("sm-1"))
				Expect(history[1].Version).To(Equal(int64(2)))
				Expect(history[1].Seq).To(BeNumerically(">", history[0].Seq))
			})

			It("replays history and follows new changes", func() {
				sctx, cancel := context.WithCancel(ctx)
				defer cancel()
				stream := store.StreamAll(sctx, workflow.StreamFilter{RequestID: req.ID})

				var first workflow.ChangeEvent
				Eventually(stream).Should(Receive(&first))
				Expect(first.Kind).To(Equal(workflow.ChangeCreated))

				_, err := transition(1, workflow.StatusPending, workflow.StatusRejected)
				Expect(err).NotTo(HaveOccurred())

				var next workflow.ChangeEvent
				Eventually(stream, 2*time.Second).Should(Receive(&next))
				Expect(next.Kind).To(Equal(workflow.ChangeTransitioned))
				Expect(next.ToStatus).To(Equal(workflow.StatusRejected))

				cancel()
				Eventually(stream, 2*time.Second).Should(BeClosed())
			})

			It("resumes after a sequence number and filters by kind", func() {
				_, err := transition(1, workflow.StatusPending, workflow.StatusWaitingExecutive)
				Expect(err).NotTo(HaveOccurred())
				history, err := store.History(ctx, req.ID)
				Expect(err).NotTo(HaveOccurred())

				sctx, cancel := context.WithCancel(ctx)
				defer cancel()
				stream := store.StreamAll(sctx, workflow.StreamFilter{
					AfterSeq: history[0].Seq,
					Kinds:    []workflow.ChangeKind{workflow.ChangeTransitioned},
				})

				var ev workflow.ChangeEvent
				Eventually(stream).Should(Receive(&ev))
				Expect(ev.Seq).To(Equal(history[1].Seq))
				Consistently(stream, 100*time.Millisecond).ShouldNot(Receive())
			})
		})
	})
}
