package cli

// ──────────────────────────────────────────────────────────────────────────────
// trustmesh CLI – shared middleware
//
// The CLI mirrors the structure of the other command modules:
//   • Shared middleware initialises the store once per invocation.
//   • Controllers implement the business logic for each route.
//   • Routes are consolidated per module and exported as *Cmd variables.
//
// Environment:
//   • TRUSTMESH_CONFIG   – optional YAML config path.
//   • TRUSTMESH_DATADIR  – storage root (default ./data).
//   • LOG_LEVEL          – trace|debug|info|warn|error (default info).
// ──────────────────────────────────────────────────────────────────────────────

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trustmesh/core"
	"trustmesh/pkg/config"
)

var (
	store  *core.Store
	cfg    *config.Config
	logger = logrus.StandardLogger()

	// protects one-time init within PersistentPreRunE
	initOnce sync.Once
)

func initMiddleware(_ *cobra.Command, _ []string) error {
	var retErr error
	initOnce.Do(func() {
		_ = godotenv.Load()

		lvlStr := os.Getenv("LOG_LEVEL")
		if lvlStr == "" {
			lvlStr = "info"
		}
		lvl, err := logrus.ParseLevel(lvlStr)
		if err != nil {
			retErr = fmt.Errorf("invalid LOG_LEVEL: %w", err)
			return
		}
		logger.SetLevel(lvl)

		cfg, err = config.Load(os.Getenv("TRUSTMESH_CONFIG"))
		if err != nil {
			retErr = err
			return
		}
		store, err = core.Open(cfg.StoreConfig(), logger)
		if err != nil {
			retErr = fmt.Errorf("open store: %w", err)
			return
		}
	})
	return retErr
}

// CloseStore releases the store; the root command calls it on exit.
func CloseStore() {
	if store != nil {
		_ = store.Close()
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func identifierArg(predicate, value string) core.Identifier {
	return core.Identifier{Predicate: predicate, Value: value}
}

func filterFromFlags(cmd *cobra.Command) core.MessageFilter {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	msgType, _ := cmd.Flags().GetString("type")
	latest, _ := cmd.Flags().GetBool("latest")
	vpPred, _ := cmd.Flags().GetString("viewpoint-predicate")
	vpVal, _ := cmd.Flags().GetString("viewpoint-value")
	maxDist, _ := cmd.Flags().GetInt("max-distance")
	return core.MessageFilter{
		Viewpoint:   core.Identifier{Predicate: vpPred, Value: vpVal},
		MaxDistance: maxDist,
		MsgType:     msgType,
		LatestOnly:  latest,
		Limit:       limit,
		Offset:      offset,
	}
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 20, "maximum results")
	cmd.Flags().Int("offset", 0, "result offset")
	cmd.Flags().String("type", "", "message type filter (! negates; rating/positive etc.)")
	cmd.Flags().Bool("latest", false, "only IsLatest messages")
	cmd.Flags().String("viewpoint-predicate", "", "viewpoint identifier predicate")
	cmd.Flags().String("viewpoint-value", "", "viewpoint identifier value")
	cmd.Flags().Int("max-distance", 0, "maximum trust distance from viewpoint")
}
