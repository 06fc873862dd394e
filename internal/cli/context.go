package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Assemble conversation context for one turn",
		Long:  "Builds the persona directive plus the highest-value memories that fit the token budget. An empty or unreachable memory set still yields a persona-only context.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().IntP("budget", "b", 2000, "Token budget for the assembled context")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	budget, _ := cmd.Flags().GetInt("budget")
	query := strings.Join(args, " ")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	cc, err := e.GetContext(cmd.Context(), namespace(), query, budget)
	if err != nil {
		exitErr("context", err)
	}

	b, _ := json.MarshalIndent(cc, "", "  ")
	fmt.Println(string(b))
}
