package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/critidx/internal/codec"
	"github.com/solatis/critidx/internal/engine"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one criteria against a request document",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().String("criteria", "", "criteria document (JSON)")
	evaluateCmd.Flags().String("request", "", "request document (JSON)")
	evaluateCmd.Flags().Bool("debug", false, "print the per-predicate trace")
	_ = evaluateCmd.MarkFlagRequired("criteria")
	_ = evaluateCmd.MarkFlagRequired("request")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	criteriaFile, _ := cmd.Flags().GetString("criteria")
	requestFile, _ := cmd.Flags().GetString("request")
	debug, _ := cmd.Flags().GetBool("debug")

	data, err := os.ReadFile(criteriaFile)
	if err != nil {
		return err
	}
	criteria, err := codec.DecodeCriteria(data)
	if err != nil {
		return err
	}
	request, err := os.ReadFile(requestFile)
	if err != nil {
		return err
	}

	m, err := engine.New()
	if err != nil {
		return err
	}
	if debug {
		trace, err := m.Debug(criteria, request)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), trace.String())
		return nil
	}
	ok, err := m.Evaluate(criteria, request)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ok)
	return nil
}
