package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Run one retention sweep",
		Long:  "Expires short_term chunks past their TTL and purges tombstoned rows. mid_term and long_term memories are exempt.",
		Run:   runRetention,
	}

	RootCmd.AddCommand(cmd)
}

func runRetention(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	stats, err := e.RunRetention(cmd.Context())
	if err != nil {
		exitErr("retention", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
