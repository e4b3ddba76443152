package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mascotas.dev/petwatch/internal/simulator"
	"mascotas.dev/petwatch/pkg/logger"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run the fake telemetry feed",
	Long: `Run a fake ThingSpeak-style feed server with simulated trackers
wandering around the campus boundary, for local development and demos.`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	simulatorCmd.Flags().Int("port", 8090, "feed HTTP port")
	simulatorCmd.Flags().Duration("interval", 5*time.Second, "interval between simulated samples")
	simulatorCmd.Flags().StringSlice("tracker-keys", nil, "entity keys for simulated trackers (empty means one untagged tracker)")

	_ = viper.BindPFlag("simulator.port", simulatorCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("simulator.interval", simulatorCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulator.tracker_keys", simulatorCmd.Flags().Lookup("tracker-keys"))
}

func runSimulator(_ *cobra.Command, _ []string) error {
	log := GetLogger()
	log.Info("starting feed simulator")

	sim, err := simulator.New(&simulator.Config{
		Logger:      logger.Component(log, "simulator"),
		TrackerKeys: viper.GetStringSlice("simulator.tracker_keys"),
		Interval:    viper.GetDuration("simulator.interval"),
	})
	if err != nil {
		log.Error("failed to create simulator", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sim.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sim.Serve(ctx, viper.GetInt("simulator.port")); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errCh:
		log.Error("simulator error", "error", err)
		cancel()
		wg.Wait()
		return err
	}

	wg.Wait()
	log.Info("feed simulator stopped")
	return nil
}
