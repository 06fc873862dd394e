package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/companionkit/memoryengine/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Hybrid search over the namespace's memories",
		Long:  "Combines embedding similarity and keyword matching into one ranked result list.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().StringSlice("memory-type", nil, "Filter by memory type (conversational, emotional, factual)")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	typeFlags, _ := cmd.Flags().GetStringSlice("memory-type")
	query := strings.Join(args, " ")

	var types []model.MemoryType
	for _, t := range typeFlags {
		mt := model.MemoryType(t)
		if !model.ValidMemoryTypes[mt] {
			exitErr("search", fmt.Errorf("unknown memory type %q", t))
		}
		types = append(types, mt)
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	results, err := e.Search(cmd.Context(), namespace(), query, limit, types)
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
