// Package cli implements the memoryengine CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/companionkit/memoryengine/internal/config"
	"github.com/companionkit/memoryengine/internal/engine"
	"github.com/companionkit/memoryengine/internal/model"
)

var (
	configPath  string
	dbPath      string
	ownerID     string
	companionID string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memoryengine",
	Short: "Memory processing and retrieval for AI companions",
	Long:  "Ingests user artifacts into namespaced memory chunks, serves hybrid search and token-budgeted conversation context, and maintains a personalization profile per owner/companion pair.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMORY_ENGINE_DB or ~/.memoryengine/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&ownerID, "owner", "o", "", "Owner ID of the namespace")
	RootCmd.PersistentFlags().StringVarP(&companionID, "companion", "c", "", "Companion ID of the namespace")
}

func openEngine() (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	// One-shot commands run their own retention pass on demand.
	cfg.Retention.SweepSchedule = ""
	return engine.New(cfg, engine.Services{})
}

func namespace() model.Namespace {
	ns := model.Namespace{OwnerID: ownerID, CompanionID: companionID}
	if ns.IsZero() {
		fmt.Fprintln(os.Stderr, "error: --owner and --companion are required")
		os.Exit(1)
	}
	return ns
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
