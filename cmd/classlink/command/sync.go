package command

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"classlink/internal/deviceid"
	"classlink/internal/models"
	"classlink/internal/store"
	"classlink/internal/syncengine"
	"classlink/internal/teacherapi"
)

var syncServer string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against a teacher server",
	Long: `Deliver every queued answer to the given teacher server once, with the
normal per-answer backoff, and print what happened.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, err := deviceid.Resolve(cfg.DeviceID, cfg.DeviceIDPath)
		if err != nil {
			return fmt.Errorf("failed to resolve device id: %w", err)
		}

		db, err := store.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer store.Close(db)

		api := teacherapi.New(teacherapi.Options{
			BaseURL:   syncServer,
			DeviceID:  deviceID,
			Timeout:   cfg.HTTPTimeout,
			RateLimit: cfg.HTTPRateLimit,
			RateBurst: cfg.HTTPRateBurst,
			Logger:    logger,
		})

		engine := syncengine.New(syncengine.Options{
			Queue:       store.NewResponseRepository(db),
			Transmitter: api,
			Logger:      logger,
			Progress: syncengine.Progress{
				OnEntrySuccess: func(r models.PendingResponse) {
					color.Green("  ✓ %s (question %s)", r.ID, r.QuestionID)
				},
				OnEntryFailure: func(r models.PendingResponse, err error) {
					color.Red("  ✗ %s: %v", r.ID, err)
				},
			},
		})
		defer engine.Shutdown(cfg.SyncShutdownTimeout)

		fmt.Printf("Syncing to %s...\n", syncServer)
		result, err := engine.SyncNow(cmd.Context())
		if err != nil {
			return err
		}
		if result.Err != nil {
			return result.Err
		}

		fmt.Printf("\nSucceeded: %d  Failed: %d  (%s)\n",
			result.Succeeded, result.Failed, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
		if result.Failed > 0 {
			return fmt.Errorf("%d responses were not delivered", result.Failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncServer, "server", "", "teacher server base URL, e.g. http://192.168.1.100:8080")
	syncCmd.MarkFlagRequired("server")
	rootCmd.AddCommand(syncCmd)
}
