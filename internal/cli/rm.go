package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete all memories and the profile of a namespace",
		Long:  "Removes the namespace completely: chunks, search indexes, and the personalization profile. Fails while an export holds chunks pinned.",
		Run:   runRm,
	}

	cmd.Flags().Bool("yes", false, "Confirm the deletion")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	ns := namespace()
	if !yes {
		fmt.Fprintf(os.Stderr, "refusing to delete %s without --yes\n", ns.Key())
		os.Exit(1)
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	conf, err := e.DeleteAll(cmd.Context(), ns)
	if err != nil {
		exitErr("delete", err)
	}

	b, _ := json.MarshalIndent(conf, "", "  ")
	fmt.Println(string(b))
}
