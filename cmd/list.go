package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/civil-registry/internal/model"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificates by workflow state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		stateFlag, _ := cmd.Flags().GetString("state")
		typeFlag, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		queue, _ := cmd.Flags().GetBool("queue")

		var f model.WorkflowFilter
		var err error
		if stateFlag != "" {
			if f.State, err = model.ParseState(stateFlag); err != nil {
				return err
			}
		}
		if f.Type, err = optionalType(typeFlag); err != nil {
			return err
		}
		f.Limit = limit

		env, err := initVerify(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		var recs []model.WorkflowRecord
		if queue {
			recs, err = env.Service.ReviewQueue(ctx, f.Type, f.Limit)
		} else {
			recs, err = env.Service.ListWorkflow(ctx, f)
		}
		if err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No certificates found.")
			return nil
		}
		formatWorkflowList(os.Stdout, recs)
		return nil
	},
}

func init() {
	listCmd.Flags().String("state", "", "filter by workflow state")
	listCmd.Flags().String("type", "", "filter by certificate type (birth, marriage, death, marriage_license)")
	listCmd.Flags().Int("limit", 50, "max number of records to display")
	listCmd.Flags().Bool("queue", false, "show the review queue, lowest quality first")
	rootCmd.AddCommand(listCmd)
}
