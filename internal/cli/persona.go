package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Show the namespace's personalization profile",
		Run:   runPersona,
	}
	cmd.Flags().Bool("rebuild", false, "Rebuild the profile from the stored chunk set first")
	RootCmd.AddCommand(cmd)

	insights := &cobra.Command{
		Use:   "insights",
		Short: "List human-readable profile observations",
		Run:   runInsights,
	}
	RootCmd.AddCommand(insights)
}

func runPersona(cmd *cobra.Command, args []string) {
	rebuild, _ := cmd.Flags().GetBool("rebuild")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	ns := namespace()
	p, err := e.Profile(cmd.Context(), ns)
	if rebuild {
		p, err = e.RebuildProfile(cmd.Context(), ns)
	}
	if err != nil {
		exitErr("persona", err)
	}

	b, _ := json.MarshalIndent(p, "", "  ")
	fmt.Println(string(b))
}

func runInsights(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	lines, err := e.Insights(cmd.Context(), namespace())
	if err != nil {
		exitErr("insights", err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
}
