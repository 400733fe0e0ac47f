package expense_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/transport/middleware"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type errorBody struct {
	Error struct {
		Type    string          `json:"type"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

var _ = Describe("Handler", func() {
	var (
		f      *fixture
		router *chi.Mux
	)

	BeforeEach(func() {
		f = newFixture()
		router = chi.NewRouter()
		router.Route("/expenses", func(r chi.Router) {
			expense.NewHandler(f.service).Routes(r, middleware.RequireApprover(workflow.DefaultPolicy()))
		})
	})

	do := func(actor *workflow.Actor, method, target, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, target, nil)
		}
		if actor != nil {
			req = req.WithContext(internal.ContextWithActor(req.Context(), *actor))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decodeError := func(rec *httptest.ResponseRecorder) errorBody {
		var body errorBody
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	Describe("POST /expenses", func() {
		It("creates a request for the caller", func() {
			rec := do(&requester, http.MethodPost, "/expenses", `{"title":"Taxi","amount":85000,"requester_id":"someone-else"}`)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var view map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
			Expect(view["status"]).To(Equal("pending"))
			Expect(view["requester_id"]).To(Equal(requester.ID))
			Expect(view["version"]).To(BeEquivalentTo(1))
			Expect(view["allowed_transitions"]).To(BeEmpty())
		})

		It("answers 400 for an undecodable body", func() {
			rec := do(&requester, http.MethodPost, "/expenses", `{"title":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeError(rec).Error.Code).To(Equal(string(internal.ErrCodeValidationFailed)))
		})

		It("answers 400 with field details for an invalid amount", func() {
			rec := do(&requester, http.MethodPost, "/expenses", `{"title":"Taxi","amount":-5}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(string(decodeError(rec).Error.Details)).To(ContainSubstring("amount"))
		})

		It("answers 401 without a resolved caller", func() {
			rec := do(nil, http.MethodPost, "/expenses", `{"title":"Taxi","amount":85000}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeError(rec).Error.Code).To(Equal(string(internal.ErrCodeUnauthenticated)))
		})
	})

	Describe("POST /expenses/{id}/transitions", func() {
		var id string

		BeforeEach(func() {
			id = f.submit(requester, "Hotel", 1200000).ID
		})

		It("applies an authorized transition", func() {
			rec := do(&financeLead, http.MethodPost, "/expenses/"+id+"/transitions", `{"target_status":"waiting_executive","comment":"needs board sign-off"}`)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var view map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
			Expect(view["status"]).To(Equal("waiting_executive"))
			Expect(view["decision_comment"]).To(Equal("needs board sign-off"))
			Expect(view["version"]).To(BeEquivalentTo(2))
		})

		DescribeTable("maps refusals onto HTTP statuses",
			func(actor workflow.Actor, body string, status int, code internal.ErrorCode) {
				rec := do(&actor, http.MethodPost, "/expenses/"+id+"/transitions", body)
				Expect(rec.Code).To(Equal(status))
				Expect(decodeError(rec).Error.Code).To(Equal(string(code)))
			},
			Entry("another department", marketLead, `{"target_status":"rejected"}`, http.StatusForbidden, internal.ErrCodeForbiddenScope),
			Entry("a role without the edge", requester, `{"target_status":"approved"}`, http.StatusUnprocessableEntity, internal.ErrCodeIllegalTransition),
			Entry("an edge missing from the table", director, `{"target_status":"approved_by_department"}`, http.StatusUnprocessableEntity, internal.ErrCodeIllegalTransition),
			Entry("an unknown status", director, `{"target_status":"paid"}`, http.StatusBadRequest, internal.ErrCodeValidationFailed),
		)

		It("answers 409 once the request is decided", func() {
			f.move(director, id, workflow.StatusRejected)

			rec := do(&director, http.MethodPost, "/expenses/"+id+"/transitions", `{"target_status":"approved"}`)
			Expect(rec.Code).To(Equal(http.StatusConflict))
			body := decodeError(rec)
			Expect(body.Error.Code).To(Equal(string(internal.ErrCodeTerminalState)))
			Expect(string(body.Error.Details)).To(ContainSubstring(`"current_status":"rejected"`))
		})

		It("answers 404 for an unknown request", func() {
			rec := do(&director, http.MethodPost, "/expenses/nope/transitions", `{"target_status":"approved"}`)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /expenses/inbox", func() {
		It("admits approvers", func() {
			f.submit(requester, "Hotel", 1200000)

			rec := do(&financeLead, http.MethodGet, "/expenses/inbox", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var result expense.ListResult
			Expect(json.Unmarshal(rec.Body.Bytes(), &result)).To(Succeed())
			Expect(result.Requests).To(HaveLen(1))
		})

		It("turns employees away before reaching the service", func() {
			rec := do(&requester, http.MethodGet, "/expenses/inbox", "")
			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(decodeError(rec).Error.Code).To(Equal(string(internal.ErrCodeRoleRequired)))
		})
	})

	Describe("GET /expenses/summary", func() {
		It("returns the caller's scoped totals", func() {
			f.submit(requester, "Hotel", 1200000)
			f.submit(outsider, "Banner print", 400000)

			rec := do(&financeLead, http.MethodGet, "/expenses/summary", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var summary expense.Summary
			Expect(json.Unmarshal(rec.Body.Bytes(), &summary)).To(Succeed())
			Expect(summary.TotalCount).To(Equal(int64(1)))
			Expect(summary.TotalAmount).To(Equal(int64(1200000)))
		})

		It("honours mine for managers", func() {
			f.submit(requester, "Hotel", 1200000)

			rec := do(&director, http.MethodGet, "/expenses/summary?mine=true", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"total_count":0`))
		})

		It("answers 401 for a section manager without a department", func() {
			rec := do(&workflow.Actor{ID: "sm-x", Role: workflow.RoleSectionManager}, http.MethodGet, "/expenses/summary", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("GET /expenses", func() {
		It("parses paging parameters", func() {
			for i := 0; i < 3; i++ {
				f.submit(requester, "Taxi", 85000)
			}

			rec := do(&requester, http.MethodGet, "/expenses?limit=2&offset=1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var result expense.ListResult
			Expect(json.Unmarshal(rec.Body.Bytes(), &result)).To(Succeed())
			Expect(result.Total).To(Equal(int64(3)))
			Expect(result.Requests).To(HaveLen(2))
			Expect(result.Limit).To(Equal(2))
			Expect(result.Offset).To(Equal(1))
		})

		It("rejects a non-numeric limit", func() {
			rec := do(&requester, http.MethodGet, "/expenses?limit=lots", "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeError(rec).Error.Message).To(Equal("limit must be an integer"))
		})
	})

	Describe("PATCH and DELETE /expenses/{id}", func() {
		var id string

		BeforeEach(func() {
			id = f.submit(requester, "Hotel", 1200000).ID
		})

		It("edits then withdraws a pending request", func() {
			rec := do(&requester, http.MethodPatch, "/expenses/"+id, `{"version":1,"amount":1500000}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = do(&requester, http.MethodDelete, "/expenses/"+id+"?version=1", "")
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(decodeError(rec).Error.Code).To(Equal(string(internal.ErrCodeStaleVersion)))

			rec = do(&requester, http.MethodDelete, "/expenses/"+id+"?version=2", "")
			Expect(rec.Code).To(Equal(http.StatusNoContent))

			rec = do(&requester, http.MethodGet, "/expenses/"+id, "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("requires the version on withdraw", func() {
			rec := do(&requester, http.MethodDelete, "/expenses/"+id, "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(string(decodeError(rec).Error.Details)).To(ContainSubstring(string(internal.ErrCodeInvalidVersion)))
		})
	})

	Describe("GET /expenses/{id}/history", func() {
		It("returns the change feed of one request", func() {
			id := f.submit(requester, "Hotel", 1200000).ID
			f.move(financeLead, id, workflow.StatusApprovedByDepartment)

			rec := do(&requester, http.MethodGet, "/expenses/"+id+"/history", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body struct {
				RequestID string                 `json:"request_id"`
				Changes   []workflow.ChangeEvent `json:"changes"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.RequestID).To(Equal(id))
			Expect(body.Changes).To(HaveLen(2))
			Expect(body.Changes[1].ToStatus).To(Equal(workflow.StatusApprovedByDepartment))
		})
	})
})
