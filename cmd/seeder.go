package cmd

import (
	"context"
	"fmt"

	"github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long: `Seed the database with sample expense requests for development. The
requests walk through the workflow so every status is represented.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg := mustBootstrap()
		if cfg.Database.Driver == internal.DatabaseDriverMemory {
			return fmt.Errorf("seeding the in-memory store has no lasting effect; configure a database driver")
		}

		store, closeStore, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer closeStore()

		engine := workflow.NewEngine(store, workflow.WithLogger(lg))
		service := expense.NewService(store, engine, nil, lg)
		return seed(cmd.Context(), service)
	},
}

var (
	seedEmployee = workflow.Actor{ID: "emp-001", Name: "Fadhil", Role: workflow.RoleEmployee, Department: "engineering"}
	seedSection  = workflow.Actor{ID: "sec-001", Name: "Sari", Role: workflow.RoleSectionManager, Department: "engineering"}
	seedManager  = workflow.Actor{ID: "mgr-001", Name: "Padil", Role: workflow.RoleManager, Department: "finance"}
)

type seedStep struct {
	actor  workflow.Actor
	target workflow.Status
	note   string
}

type seedRequest struct {
	dto   expense.SubmitRequestDTO
	steps []seedStep
}

var seedRequests = []seedRequest{
	{dto: expense.SubmitRequestDTO{Title: "Team lunch", ExpenseType: "meals", Amount: 450000}},
	{
		dto:   expense.SubmitRequestDTO{Title: "Keyboard replacement", ExpenseType: "equipment", Amount: 1200000},
		steps: []seedStep{{seedSection, workflow.StatusApprovedByDepartment, "within department budget"}},
	},
	{
		dto: expense.SubmitRequestDTO{Title: "Conference travel", ExpenseType: "travel", Amount: 8500000,
			Attachments: []string{"flight-quote.pdf", "hotel-quote.pdf"}},
		steps: []seedStep{{seedSection, workflow.StatusWaitingExecutive, "above department limit"}},
	},
	{
		dto: expense.SubmitRequestDTO{Title: "Cloud credits", ExpenseType: "software", Amount: 15000000},
		steps: []seedStep{
			{seedSection, workflow.StatusWaitingExecutive, "needs executive sign-off"},
			{seedManager, workflow.StatusApproved, "approved for Q3"},
		},
	},
	{
		dto:   expense.SubmitRequestDTO{Title: "Standing desk", ExpenseType: "equipment", Amount: 6000000},
		steps: []seedStep{{seedSection, workflow.StatusRejected, "covered by facilities"}},
	},
}

func seed(ctx context.Context, service *expense.Service) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sr := range seedRequests {
		view, err := service.Submit(ctx, seedEmployee, sr.dto)
		if err != nil {
			return fmt.Errorf("failed to submit %q: %w", sr.dto.Title, err)
		}
		for _, step := range sr.steps {
			view, err = service.Transition(ctx, step.actor, view.ID, expense.TransitionDTO{
				TargetStatus: string(step.target),
				Comment:      step.note,
			})
			if err != nil {
				return fmt.Errorf("failed to move %q to %s: %w", sr.dto.Title, step.target, err)
			}
		}
		fmt.Printf("Seeded %-22s %s (%s)\n", sr.dto.Title, view.ID, view.Status)
	}
	return nil
}
