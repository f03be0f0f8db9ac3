package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/workflow"
)

var (
	transitionTo     string
	transitionActor  string
	transitionReason string
)

var transitionCmd = &cobra.Command{
	Use:   "transition <type> <id>",
	Short: "Move a certificate to another workflow state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		key, err := parseKey(args[0], args[1])
		if err != nil {
			return err
		}
		to, err := model.ParseState(transitionTo)
		if err != nil {
			return err
		}
		env, err := initVerify(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.RequestTransition(ctx, workflow.TransitionRequest{
			Key:     key,
			To:      to,
			ActorID: transitionActor,
			Reason:  transitionReason,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", model.KindOf(err), err)
		}
		_, _ = fmt.Fprintf(os.Stdout, "%s/%d: %s -> %s (version %d)\n",
			key.Type, key.ID, res.Record.FromState, res.NewState, res.Workflow.Version)
		return nil
	},
}

func init() {
	transitionCmd.Flags().StringVar(&transitionTo, "to", "", "target state (required)")
	transitionCmd.Flags().StringVar(&transitionActor, "actor", "", "acting user id (required)")
	transitionCmd.Flags().StringVar(&transitionReason, "reason", "", "reason, required when rejecting")
	_ = transitionCmd.MarkFlagRequired("to")
	_ = transitionCmd.MarkFlagRequired("actor")
	rootCmd.AddCommand(transitionCmd)
}
