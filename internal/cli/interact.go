package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/companionkit/memoryengine/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "interact [message]",
		Short: "Feed one conversational exchange into the profile",
		Args:  cobra.MinimumNArgs(1),
		Run:   runInteract,
	}

	RootCmd.AddCommand(cmd)
}

func runInteract(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	p, err := e.RecordInteraction(cmd.Context(), namespace(), model.Interaction{
		UserMessage: strings.Join(args, " "),
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		exitErr("interact", err)
	}

	b, _ := json.MarshalIndent(p, "", "  ")
	fmt.Println(string(b))
}
