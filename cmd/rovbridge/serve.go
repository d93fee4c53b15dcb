package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-rov/rovbridge/pkg/api"
	"github.com/open-rov/rovbridge/pkg/config"
	"github.com/open-rov/rovbridge/pkg/events"
	"github.com/open-rov/rovbridge/pkg/link"
	customlog "github.com/open-rov/rovbridge/pkg/log"
	"github.com/open-rov/rovbridge/pkg/zeromq"
	"github.com/open-rov/rovbridge/services"
)

const shutdownTimeout = 5 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("access-log", false, "log every HTTP request")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadBootstrapConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := customlog.New(customlog.Options{
		Level:      cfg.Logging.Level,
		Dir:        cfg.Logging.LogPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	logger.Infof("Loaded bootstrap configuration from %s", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	vehicleConfig, err := services.NewVehicleConfigService(cfg.Vehicle.ConfigFile, logger.WithField("component", "vehicle-config"))
	if err != nil {
		return err
	}

	manager, err := link.NewManager(link.ManagerOptions{
		Links:  cfg.LinkOptions(),
		Bus:    bus,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	bridge, err := services.NewBridgeService(services.BridgeOptions{
		Links:       manager,
		Config:      vehicleConfig,
		Bus:         bus,
		Logger:      logger.WithField("component", "bridge"),
		ESCChannels: cfg.Vehicle.ESCChannels,
	})
	if err != nil {
		return err
	}

	if cfg.ZeroMQ.Enabled {
		sender, err := zeromq.NewMessageSender(cfg.ZeroMQ.PublishBindAddress, logger)
		if err != nil {
			// The feed is optional; the bridge keeps running without it.
			logger.Errorf("ZeroMQ telemetry publisher disabled: %v", err)
		} else {
			publisher := zeromq.NewTelemetryPublisher(bus, sender, logger)
			publisher.Start(ctx)
			defer publisher.Stop()
		}
	}

	accessLog, _ := cmd.Flags().GetBool("access-log")
	app := api.NewApp(api.ServerOptions{
		Bridge:         bridge,
		Bus:            bus,
		Logger:         logger.WithField("component", "api"),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AccessLog:      accessLog,
	})

	go startupScan(ctx, bridge, cfg.Links, logger)

	listenErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		logger.Infof("Server starting on %s", addr)
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	logger.Infof("Server exited properly")
	return nil
}

// startupScan logs the ports present at startup and opens the links marked
// auto_connect.
func startupScan(ctx context.Context, bridge *services.BridgeService, links []config.LinkConfig, logger customlog.Logger) {
	ports, err := bridge.FindComPorts(ctx)
	if err != nil {
		logger.Warnf("Startup port scan failed: %v", err)
	} else if len(ports) == 0 {
		logger.Infof("No serial ports found")
	}
	for _, p := range ports {
		logger.Infof("Found serial port %s (%s)", p.Path, p.Manufacturer)
	}

	for _, l := range links {
		if !l.AutoConnect {
			continue
		}
		if err := bridge.ConnectLink(ctx, l.Name, l.Path); err != nil {
			logger.Warnf("Auto-connect of link %s to %s failed: %v", l.Name, l.Path, err)
		}
	}
}
