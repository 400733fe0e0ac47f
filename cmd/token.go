package cmd

import (
	"encoding/json"
	"os"

	"github.com/frahmantamala/expense-approval/internal/auth"
	"github.com/spf13/cobra"
)

var tokenIdentity auth.IdentityClaims

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development bearer token",
	Long: `Sign a bearer token with the configured secret so the API can be called
locally without an external identity service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _ := mustBootstrap()
		provider := auth.NewJWTProvider(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenDuration)

		resp, err := provider.IssueToken(tokenIdentity)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenIdentity.Subject, "sub", "", "actor id")
	tokenCmd.Flags().StringVar(&tokenIdentity.Name, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenIdentity.Role, "role", "employee", "employee, section_manager or manager")
	tokenCmd.Flags().StringVar(&tokenIdentity.Department, "department", "", "actor department")
	_ = tokenCmd.MarkFlagRequired("sub")
	_ = tokenCmd.MarkFlagRequired("department")
}
