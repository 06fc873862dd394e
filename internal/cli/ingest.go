package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/companionkit/memoryengine/internal/ingest"
	"github.com/companionkit/memoryengine/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest artifact files into the namespace",
		Long:  "Normalizes, chunks, embeds, and stores the given files. A failing file is recorded in the session without aborting the rest of the batch.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runIngest,
	}

	cmd.Flags().StringP("type", "t", "text", "Source type: text, chat, voice, or photo")
	cmd.Flags().String("token", "", "Idempotency token for the batch (retries with the same token never duplicate chunks)")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	typeFlag, _ := cmd.Flags().GetString("type")
	token, _ := cmd.Flags().GetString("token")

	declared := model.SourceType(typeFlag)
	if !model.ValidSourceTypes[declared] {
		exitErr("ingest", fmt.Errorf("unknown source type %q", typeFlag))
	}

	var artifacts []ingest.Artifact
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			exitErr("read artifact", err)
		}
		artifacts = append(artifacts, ingest.Artifact{FileRef: path, Data: data, Declared: declared})
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	sess, err := e.Ingest(cmd.Context(), namespace(), artifacts, token)
	if err != nil {
		exitErr("ingest", err)
	}

	b, _ := json.MarshalIndent(sess.Summarize(), "", "  ")
	fmt.Println(string(b))
	fmt.Fprintf(os.Stderr, "session: %s\n", sess.SessionID)
}
