package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"classlink/internal/client"
	"classlink/internal/deviceid"
	"classlink/internal/discovery"
	"classlink/internal/localapi"
	"classlink/internal/store"
	"classlink/internal/syncengine"
	"classlink/internal/teacherapi"
	"classlink/internal/transport"
)

const apiShutdownTimeout = 5 * time.Second

var quiet bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device agent and the local API",
	Long: `Run the agent until interrupted. It will:
1. Listen for the teacher server broadcast
2. Pair over TCP (or WebSocket with PAIRING_TRANSPORT=ws)
3. Answer material and feedback notifications
4. Send a status heartbeat and sync queued answers

The local API for the UI listens on LOCAL_API_ADDR. Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

func runAgent() error {
	deviceID, err := deviceid.Resolve(cfg.DeviceID, cfg.DeviceIDPath)
	if err != nil {
		return fmt.Errorf("failed to resolve device id: %w", err)
	}

	db, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close(db)

	responses := store.NewResponseRepository(db)
	materials := store.NewMaterialRepository(db)
	feedback := store.NewFeedbackRepository(db)

	api := teacherapi.New(teacherapi.Options{
		DeviceID:  deviceID,
		Timeout:   cfg.HTTPTimeout,
		RateLimit: cfg.HTTPRateLimit,
		RateBurst: cfg.HTTPRateBurst,
		Logger:    logger,
	})

	engine := syncengine.New(syncengine.Options{
		Queue:       responses,
		Transmitter: api,
		Policy:      syncengine.DefaultPolicy(),
		Logger:      logger,
	})

	dialer, err := transport.NewDialer(cfg.PairingTransport, cfg.PairingDialTimeout)
	if err != nil {
		return err
	}

	disc := discovery.New(discovery.Options{
		Port:           cfg.DiscoveryPort,
		ReceiveTimeout: cfg.DiscoveryReceiveTimeout,
		Logger:         logger,
	})

	agent, err := client.New(client.Options{
		DeviceID:          deviceID,
		Discovery:         disc,
		Dialer:            dialer,
		API:               api,
		Sync:              engine,
		Responses:         responses,
		Materials:         materials,
		Feedback:          feedback,
		PairingGrace:      cfg.PairingGrace,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DiscoveryTimeout:  cfg.DiscoveryTimeout,
		OnEvent:           printEvent,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := localapi.NewRouter(localapi.NewHandler(agent, responses, materials, feedback), cfg.LocalAPISecret)
	server := localapi.NewServer(cfg.LocalAPIAddr, router, logger)

	logger.Info("starting_agent",
		"device_id", deviceID,
		"discovery_port", cfg.DiscoveryPort,
		"transport", cfg.PairingTransport,
		"local_api", cfg.LocalAPIAddr,
		"postgres", cfg.UsesPostgres(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	agentDone := make(chan error, 1)
	go func() { agentDone <- agent.Run(ctx) }()

	var runErr error
	select {
	case <-sigChan:
		logger.Info("received_shutdown_signal")
	case err := <-errChan:
		logger.Error("local_api_error", "error", err.Error())
		runErr = err
	case err := <-agentDone:
		runErr = err
		agentDone = nil
	}

	cancel()
	if agentDone != nil {
		<-agentDone
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("local_api_shutdown_failed", "error", err)
	}

	if err := engine.Shutdown(cfg.SyncShutdownTimeout); err != nil {
		logger.Warn("sync_shutdown_incomplete", "error", err)
	}

	logger.Info("agent_stopped_gracefully")
	return runErr
}

func printEvent(e client.Event) {
	if quiet {
		return
	}
	ts := e.At.Format("15:04:05")
	switch e.Kind {
	case client.EventServerFound:
		color.Green("[%s] teacher server found at %s", ts, e.Detail)
	case client.EventPhaseChanged:
		color.Cyan("[%s] session %s", ts, e.Detail)
	case client.EventDisconnected, client.EventUnpaired:
		color.Yellow("[%s] %s %s", ts, e.Kind, e.Detail)
	case client.EventLocked:
		color.Red("[%s] screen locked by teacher", ts)
	case client.EventUnlocked:
		color.Green("[%s] screen unlocked", ts)
	case client.EventMaterialReceived, client.EventFeedbackReceived:
		color.Magenta("[%s] %s %s", ts, e.Kind, e.Detail)
	default:
		color.HiBlack("[%s] %s %s", ts, e.Kind, e.Detail)
	}
}

func init() {
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print agent events")
	rootCmd.AddCommand(runCmd)
}
