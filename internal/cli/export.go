package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all memories and the profile of a namespace",
		Long:  "Writes a complete portable bundle. Chunks are pinned during the export so a concurrent deletion cannot race it.",
		Run:   runExport,
	}

	cmd.Flags().String("out", "", "Write the bundle to a file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	bundle, err := e.ExportAll(cmd.Context(), namespace())
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(bundle, "", "  ")
	if out == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.WriteFile(out, b, 0o600); err != nil {
		exitErr("write bundle", err)
	}
	fmt.Fprintf(os.Stderr, "exported %d chunks to %s\n", len(bundle.Chunks), out)
}
