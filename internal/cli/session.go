package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "session [session-id]",
		Short: "Show the state of an upload session",
		Args:  cobra.ExactArgs(1),
		Run:   runSession,
	}

	RootCmd.AddCommand(cmd)
}

func runSession(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	sess, err := e.GetSession(cmd.Context(), args[0])
	if err != nil {
		exitErr("session", err)
	}

	b, _ := json.MarshalIndent(sess, "", "  ")
	fmt.Println(string(b))
}
