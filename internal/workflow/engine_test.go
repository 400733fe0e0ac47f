package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var _ = Describe("Engine", func() {
	var (
		ctx       context.Context
		store     *fakeStore
		publisher *recordingPublisher
		engine    *workflow.Engine
		req       *workflow.ExpenseRequest
		clock     time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		req = newRequest(employee, workflow.StatusPending)
		store = newFakeStore(req)
		publisher = &recordingPublisher{}
		engine = workflow.NewEngine(store,
			workflow.WithPublisher(publisher),
			workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			workflow.WithClock(func() time.Time { return clock }),
		)
	})

	Context("two-tier approval", func() {
		It("forwards a pending request to the executive", func() {
			updated, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusWaitingExecutive, "over budget")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(workflow.StatusWaitingExecutive))
			Expect(updated.Version).To(Equal(req.Version + 1))
			Expect(updated.DecisionComment).To(Equal("over budget"))
			Expect(updated.UpdatedAt).To(Equal(clock))

			stored := store.snapshot(req.ID)
			Expect(stored.Status).To(Equal(workflow.StatusWaitingExecutive))
			Expect(stored.Version).To(Equal(updated.Version))

			published := publisher.published()
			Expect(published).To(HaveLen(1))
			ev, ok := published[0].(*events.RequestTransitionedEvent)
			Expect(ok).To(BeTrue())
			Expect(ev.EventType()).To(Equal(events.EventTypeRequestTransitioned))
			Expect(ev.RequestID).To(Equal(req.ID))
			Expect(ev.FromStatus).To(Equal("pending"))
			Expect(ev.ToStatus).To(Equal("waiting_executive"))
			Expect(ev.ActorID).To(Equal(financeSM.ID))
			Expect(ev.ActorRole).To(Equal("section_manager"))
			Expect(ev.RequesterDepartment).To(Equal("finance"))
			Expect(ev.Version).To(Equal(updated.Version))
		})

		It("lets the executive approve and then keeps the request final", func() {
			_, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusWaitingExecutive, "")
			Expect(err).NotTo(HaveOccurred())

			approved, err := engine.RequestTransition(ctx, &executive, req.ID, workflow.StatusApproved, "ok")
			Expect(err).NotTo(HaveOccurred())
			Expect(approved.Status).To(Equal(workflow.StatusApproved))
			Expect(approved.Version).To(Equal(int64(3)))

			_, err = engine.RequestTransition(ctx, &executive, req.ID, workflow.StatusRejected, "changed my mind")
			expectKind(err, workflow.KindTerminalState)
			_, err = engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusWaitingExecutive, "")
			expectKind(err, workflow.KindTerminalState)
			_, err = engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusApproved, "")
			expectKind(err, workflow.KindTerminalState)

			stored := store.snapshot(req.ID)
			Expect(stored.Status).To(Equal(workflow.StatusApproved))
			Expect(stored.Version).To(Equal(int64(3)))
			Expect(store.writeCount()).To(Equal(2))
		})

		It("lets a manager override the department step", func() {
			updated, err := engine.RequestTransition(ctx, &executive, req.ID, workflow.StatusApproved, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(workflow.StatusApproved))
		})

		It("treats a department approval as final", func() {
			_, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusApprovedByDepartment, "")
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.RequestTransition(ctx, &executive, req.ID, workflow.StatusApproved, "")
			expectKind(err, workflow.KindTerminalState)
		})
	})

	Context("authorization", func() {
		It("refuses a section manager of another department", func() {
			_, err := engine.RequestTransition(ctx, &marketSM, req.ID, workflow.StatusWaitingExecutive, "")
			expectKind(err, workflow.KindForbiddenScope)
			Expect(store.snapshot(req.ID).Status).To(Equal(workflow.StatusPending))
			Expect(store.writeCount()).To(BeZero())
			Expect(publisher.published()).To(BeEmpty())
		})

		It("refuses an employee escalating a request", func() {
			_, err := engine.RequestTransition(ctx, &employee, req.ID, workflow.StatusWaitingExecutive, "")
			expectKind(err, workflow.KindIllegalTransition)
			Expect(store.writeCount()).To(BeZero())
		})

		It("refuses a section manager skipping to final approval", func() {
			_, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusApproved, "")
			expectKind(err, workflow.KindIllegalTransition)
		})

		It("never writes for a combination outside the table", func() {
			for _, actor := range []workflow.Actor{employee, financeSM, marketSM, executive} {
				for _, target := range workflow.AllStatuses() {
					if target == workflow.StatusWaitingExecutive {
						// replays are covered separately
						continue
					}
					fresh := newRequest(employee, workflow.StatusWaitingExecutive)
					s := newFakeStore(fresh)
					e := workflow.NewEngine(s, workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

					a := actor
					_, err := e.RequestTransition(ctx, &a, fresh.ID, target, "")
					allowed := actor.Role == workflow.RoleManager &&
						(target == workflow.StatusApproved || target == workflow.StatusRejected)
					if allowed {
						Expect(err).NotTo(HaveOccurred())
						continue
					}
					Expect(workflow.KindOf(err)).To(BeElementOf(workflow.KindIllegalTransition, workflow.KindForbiddenScope))
					Expect(s.writeCount()).To(BeZero())
					Expect(s.snapshot(fresh.ID).Status.IsValid()).To(BeTrue())
				}
			}
		})

		DescribeTable("unauthenticated callers",
			func(actor *workflow.Actor) {
				_, err := engine.RequestTransition(ctx, actor, req.ID, workflow.StatusRejected, "")
				expectKind(err, workflow.KindUnauthenticated)
				Expect(err).To(MatchError(workflow.ErrUnauthenticated))
				Expect(store.writeCount()).To(BeZero())
			},
			Entry("no actor", nil),
			Entry("empty id", &workflow.Actor{Role: workflow.RoleManager}),
			Entry("unknown role", &workflow.Actor{ID: "x", Role: workflow.Role("admin")}),
			Entry("section manager without a department", &workflow.Actor{ID: "sm-x", Role: workflow.RoleSectionManager}),
		)
	})

	Context("idempotent re-application", func() {
		It("returns the current snapshot without a second write", func() {
			first, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusWaitingExecutive, "")
			Expect(err).NotTo(HaveOccurred())

			second, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusWaitingExecutive, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Version).To(Equal(first.Version))
			Expect(second.Status).To(Equal(workflow.StatusWaitingExecutive))
			Expect(store.writeCount()).To(Equal(1))
			Expect(publisher.published()).To(HaveLen(1))
		})

		It("does not treat an unauthorized caller as a replay", func() {
			_, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusWaitingExecutive, "")
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.RequestTransition(ctx, &marketSM, req.ID, workflow.StatusWaitingExecutive, "")
			Expect(err).To(HaveOccurred())
			Expect(store.writeCount()).To(Equal(1))
		})
	})

	Context("optimistic concurrency", func() {
		It("lets exactly one of two concurrent executives win", func() {
			waiting := newRequest(employee, workflow.StatusWaitingExecutive)
			store = newFakeStore(waiting)
			var arrived sync.WaitGroup
			arrived.Add(2)
			store.beforeCAS = func(call int) {
				if call <= 2 {
					arrived.Done()
					arrived.Wait()
				}
			}
			engine = workflow.NewEngine(store, workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

			type outcome struct {
				res *workflow.ExpenseRequest
				err error
			}
			results := make(chan outcome, 2)
			var wg sync.WaitGroup
			for _, call := range []struct {
				actor  workflow.Actor
				target workflow.Status
			}{
				{executive, workflow.StatusApproved},
				{executive2, workflow.StatusRejected},
			} {
				wg.Add(1)
				go func(actor workflow.Actor, target workflow.Status) {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := engine.RequestTransition(ctx, &actor, waiting.ID, target, "")
					results <- outcome{res, err}
				}(call.actor, call.target)
			}
			wg.Wait()
			close(results)

			var winners []*workflow.ExpenseRequest
			var losers []error
			for o := range results {
				if o.err == nil {
					winners = append(winners, o.res)
				} else {
					losers = append(losers, o.err)
				}
			}
			Expect(winners).To(HaveLen(1))
			Expect(losers).To(HaveLen(1))
			expectKind(losers[0], workflow.KindStaleVersion)
			Expect(losers[0]).To(MatchError(workflow.ErrTerminalState))

			stored := store.snapshot(waiting.ID)
			Expect(stored.Status).To(Equal(winners[0].Status))
			Expect(stored.Version).To(Equal(waiting.Version + 1))
			Expect(store.writeCount()).To(Equal(1))
		})

		It("retries once when only the version moved", func() {
			store.beforeCAS = func(call int) {
				if call == 1 {
					store.bump(req.ID)
				}
			}

			updated, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusRejected, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Version).To(Equal(req.Version + 2))
			Expect(store.casCalls).To(Equal(2))
			Expect(store.writeCount()).To(Equal(1))
		})

		It("gives up after the single retry", func() {
			store.beforeCAS = func(int) { store.bump(req.ID) }

			_, err := engine.RequestTransition(ctx, &financeSM, req.ID, workflow.StatusRejected, "")
			expectKind(err, workflow.KindStaleVersion)
			Expect(err).To(MatchError(workflow.ErrVersionMismatch))
			Expect(store.casCalls).To(Equal(2))
			Expect(store.writeCount()).To(BeZero())
			Expect(publisher.published()).To(BeEmpty())
		})
	})

	Context("store failures", func() {
		It("reports a missing request", func() {
			_, err := engine.RequestTransition(ctx, &executive, "does-not-exist", workflow.StatusApproved, "")
			expectKind(err, workflow.KindNotFound)
		})

		It("reports an unreachable store on read", func() {
			store.getErr = errConnRefused
			_, err := engine.RequestTransition(ctx, &executive, req.ID, workflow.StatusApproved, "")
			expectKind(err, workflow.KindStoreUnavailable)
			Expect(err).To(MatchError(errConnRefused))
		})

		It("reports an unreachable store on write without retrying", func() {
			store.casErr = errConnRefused
			_, err := engine.RequestTransition(ctx, &executive, req.ID, workflow.StatusApproved, "")
			expectKind(err, workflow.KindStoreUnavailable)
			Expect(store.casCalls).To(Equal(1))
		})

		It("does not write once the caller gave up", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := engine.RequestTransition(cctx, &executive, req.ID, workflow.StatusApproved, "")
			expectKind(err, workflow.KindAbandoned)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(errors.Is(err, workflow.ErrStoreUnavailable)).To(BeFalse())
			Expect(store.writeCount()).To(BeZero())
		})

		It("tells a read cut short by the caller apart from an outage", func() {
			cctx, cancel := context.WithTimeout(ctx, time.Nanosecond)
			defer cancel()
			<-cctx.Done()
			store.getErr = cctx.Err()

			_, err := engine.RequestTransition(cctx, &executive, req.ID, workflow.StatusApproved, "")
			expectKind(err, workflow.KindAbandoned)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(store.writeCount()).To(BeZero())
		})

		It("keeps a committed transition when publishing fails", func() {
			publisher.err = errors.New("bus closed")
			updated, err := engine.RequestTransition(ctx, &executive, req.ID, workflow.StatusRejected, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(workflow.StatusRejected))
			Expect(store.snapshot(req.ID).Status).To(Equal(workflow.StatusRejected))
		})
	})

	Context("tracing", func() {
		It("records the outcome on the span", func() {
			recorder := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
			engine = workflow.NewEngine(store,
				workflow.WithTracer(tp.Tracer("test")),
				workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

			_, err := engine.RequestTransition(ctx, &marketSM, req.ID, workflow.StatusRejected, "")
			Expect(err).To(HaveOccurred())

			spans := recorder.Ended()
			Expect(spans).To(HaveLen(1))
			Expect(spans[0].Name()).To(Equal("workflow.RequestTransition"))
			Expect(spans[0].Status().Code).To(Equal(codes.Error))
			Expect(spans[0].Attributes()).To(ContainElement(attribute.String("workflow.error_kind", "forbidden_scope")))
			Expect(spans[0].Attributes()).To(ContainElement(attribute.String("workflow.actor_id", marketSM.ID)))
		})

		It("does not mark an abandoned call as failed", func() {
			recorder := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
			var logs bytes.Buffer
			engine = workflow.NewEngine(store,
				workflow.WithTracer(tp.Tracer("test")),
				workflow.WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))))

			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := engine.RequestTransition(cctx, &executive, req.ID, workflow.StatusApproved, "")
			expectKind(err, workflow.KindAbandoned)

			spans := recorder.Ended()
			Expect(spans).To(HaveLen(1))
			Expect(spans[0].Status().Code).To(Equal(codes.Unset))
			Expect(spans[0].Attributes()).To(ContainElement(attribute.String("workflow.error_kind", "abandoned")))
			Expect(logs.String()).To(BeEmpty())
		})
	})
})
