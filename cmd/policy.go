package cmd

import (
	"io"

	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type policyDocument struct {
	Statuses []statusEntry   `yaml:"statuses"`
	Rules    []workflow.Rule `yaml:"rules"`
}

type statusEntry struct {
	Name     workflow.Status `yaml:"name"`
	Terminal bool            `yaml:"terminal"`
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the transition policy table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writePolicy(cmd.OutOrStdout(), workflow.DefaultPolicy())
	},
}

func writePolicy(w io.Writer, policy *workflow.PolicyTable) error {
	doc := policyDocument{Rules: policy.Rules()}
	for _, s := range workflow.AllStatuses() {
		doc.Statuses = append(doc.Statuses, statusEntry{Name: s, Terminal: s.IsTerminal()})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(doc)
}
