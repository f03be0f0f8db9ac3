package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [<type> <id>]",
	Short: "Show workflow counts, or one certificate's state",
	Long:  "Without arguments prints the number of certificates in every workflow state. With a certificate prints its state, score and next allowed states.",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("accepts 0 or 2 args, received %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initVerify(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 0 {
			counts, err := env.Service.GetWorkflowCounts(ctx)
			if err != nil {
				return err
			}
			formatCounts(os.Stdout, counts)
			return nil
		}

		key, err := parseKey(args[0], args[1])
		if err != nil {
			return err
		}
		st, err := env.Service.WorkflowState(ctx, key)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, struct {
			Workflow any `json:"workflow"`
			Allowed  any `json:"allowed_transitions"`
		}{st, env.Service.AllowedTransitions(st.CurrentState)})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
