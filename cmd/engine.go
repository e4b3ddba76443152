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

	"mascotas.dev/petwatch/internal/api"
	"mascotas.dev/petwatch/internal/engine"
	"mascotas.dev/petwatch/internal/feed"
	"mascotas.dev/petwatch/internal/geo"
	"mascotas.dev/petwatch/internal/history"
	"mascotas.dev/petwatch/internal/store"
	"mascotas.dev/petwatch/internal/track"
	"mascotas.dev/petwatch/pkg/logger"
	"mascotas.dev/petwatch/pkg/metrics"
	"mascotas.dev/petwatch/pkg/mq"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the ingestion engine",
	Long: `Run the ingestion engine that:
- Polls the telemetry feed on a fixed interval
- Assigns readings to registered pets and deduplicates them
- Classifies positions against the campus boundary
- Persists the visit history to the configured store
- Publishes per-tick snapshots to RabbitMQ
- Serves the read-side HTTP API`,
	RunE: runEngine,
}

// campusBoundary is the default geofence, the observed UES campus polygon.
var campusBoundary = geo.Polygon{
	{Lat: 13.7233, Lng: -89.2032},
	{Lat: 13.7224, Lng: -89.1994},
	{Lat: 13.7195, Lng: -89.1998},
	{Lat: 13.7165, Lng: -89.2003},
	{Lat: 13.7152, Lng: -89.2060},
	{Lat: 13.7192, Lng: -89.2055},
}

func init() {
	rootCmd.AddCommand(engineCmd)

	// Feed flags
	engineCmd.Flags().String("feed-url", "https://api.thingspeak.com", "telemetry feed base URL")
	engineCmd.Flags().String("feed-channel", "3146056", "telemetry feed channel")
	engineCmd.Flags().String("feed-api-key", "", "telemetry feed read API key")
	engineCmd.Flags().Int("feed-results", 10, "records requested per poll")
	engineCmd.Flags().Duration("interval", 15*time.Second, "poll interval")
	engineCmd.Flags().Float64("epsilon", track.DefaultEpsilon, "change-detection threshold in degrees")
	engineCmd.Flags().Bool("disable-fallback", false, "disable broadcast assignment of untagged readings")

	// Store flags
	engineCmd.Flags().String("store-backend", "sqlite", "visit store backend (memory, sqlite, postgres, badger)")
	engineCmd.Flags().String("store-path", "petwatch.db", "file or directory for file-backed stores")
	engineCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	engineCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	engineCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	engineCmd.Flags().String("db-password", "", "PostgreSQL password")
	engineCmd.Flags().String("db-name", "petwatch", "PostgreSQL database name")
	engineCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")

	// Presentation feed flags
	engineCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL (empty disables snapshot publishing)")
	engineCmd.Flags().String("queue-name", "pet-snapshots", "RabbitMQ queue name for snapshots")

	// API flags
	engineCmd.Flags().Int("http-port", 8080, "read API HTTP port")

	// Bind flags to viper
	_ = viper.BindPFlag("engine.feed.url", engineCmd.Flags().Lookup("feed-url"))
	_ = viper.BindPFlag("engine.feed.channel", engineCmd.Flags().Lookup("feed-channel"))
	_ = viper.BindPFlag("engine.feed.api_key", engineCmd.Flags().Lookup("feed-api-key"))
	_ = viper.BindPFlag("engine.feed.results", engineCmd.Flags().Lookup("feed-results"))
	_ = viper.BindPFlag("engine.interval", engineCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("engine.epsilon", engineCmd.Flags().Lookup("epsilon"))
	_ = viper.BindPFlag("engine.disable_fallback", engineCmd.Flags().Lookup("disable-fallback"))
	_ = viper.BindPFlag("engine.store.backend", engineCmd.Flags().Lookup("store-backend"))
	_ = viper.BindPFlag("engine.store.path", engineCmd.Flags().Lookup("store-path"))
	_ = viper.BindPFlag("engine.store.db.host", engineCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("engine.store.db.port", engineCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("engine.store.db.user", engineCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("engine.store.db.password", engineCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("engine.store.db.name", engineCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("engine.store.db.sslmode", engineCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("engine.rabbitmq.url", engineCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("engine.rabbitmq.queue_name", engineCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("engine.http.port", engineCmd.Flags().Lookup("http-port"))
}

// entityConfig is the config-file shape of one registry entry.
type entityConfig struct {
	ID      string `mapstructure:"id"`
	Label   string `mapstructure:"label"`
	FeedKey string `mapstructure:"feed_key"`
}

func loadEntities() ([]track.Entity, error) {
	var raw []entityConfig
	if err := viper.UnmarshalKey("entities", &raw); err != nil {
		return nil, err
	}
	entities := make([]track.Entity, 0, len(raw))
	for _, e := range raw {
		entities = append(entities, track.Entity{ID: e.ID, Label: e.Label, FeedKey: e.FeedKey})
	}
	return entities, nil
}

func loadBoundary() (geo.Polygon, error) {
	var raw []struct {
		Lat float64 `mapstructure:"lat"`
		Lng float64 `mapstructure:"lng"`
	}
	if err := viper.UnmarshalKey("boundary", &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return campusBoundary, nil
	}
	poly := make(geo.Polygon, 0, len(raw))
	for _, v := range raw {
		poly = append(poly, geo.Vertex{Lat: v.Lat, Lng: v.Lng})
	}
	return poly, nil
}

func runEngine(_ *cobra.Command, _ []string) error {
	log := GetLogger()
	log.Info("starting petwatch engine")

	entities, err := loadEntities()
	if err != nil {
		log.Error("failed to load entity registry", "error", err)
		return err
	}

	boundary, err := loadBoundary()
	if err != nil {
		log.Error("failed to load boundary", "error", err)
		return err
	}

	var mapping feed.FieldMapping
	if err := viper.UnmarshalKey("engine.feed.fields", &mapping); err != nil {
		log.Error("failed to load field mapping", "error", err)
		return err
	}

	feedClient, err := feed.NewClient(&feed.ClientConfig{
		Logger:  logger.Component(log, "feed"),
		BaseURL: viper.GetString("engine.feed.url"),
		Channel: viper.GetString("engine.feed.channel"),
		APIKey:  viper.GetString("engine.feed.api_key"),
		Results: viper.GetInt("engine.feed.results"),
	})
	if err != nil {
		log.Error("failed to create feed client", "error", err)
		return err
	}

	visitStore, err := store.Open(
		store.Backend(viper.GetString("engine.store.backend")),
		store.Options{
			Path:     viper.GetString("engine.store.path"),
			Host:     viper.GetString("engine.store.db.host"),
			Port:     viper.GetInt("engine.store.db.port"),
			User:     viper.GetString("engine.store.db.user"),
			Password: viper.GetString("engine.store.db.password"),
			DBName:   viper.GetString("engine.store.db.name"),
			SSLMode:  viper.GetString("engine.store.db.sslmode"),
		},
	)
	if err != nil {
		log.Error("failed to open visit store", "error", err)
		return err
	}
	defer func() {
		if err := visitStore.Close(); err != nil {
			log.Error("failed to close visit store", "error", err)
		}
	}()

	var publisher mq.PublisherInterface
	if url := viper.GetString("engine.rabbitmq.url"); url != "" {
		mqMetrics := metrics.NewMQMetrics("petwatch")
		pub := mq.NewPublisher(
			viper.GetString("engine.rabbitmq.queue_name"),
			url,
			logger.Component(log, "mq-publisher"),
		)
		pub.SetMetrics(mqMetrics)
		publisher = pub
		defer func() {
			if err := pub.Close(); err != nil {
				log.Error("failed to close publisher", "error", err)
			}
		}()
	}

	scheduler, err := engine.NewScheduler(&engine.Config{
		Logger:          logger.Component(log, "scheduler"),
		Feed:            feedClient,
		Normalizer:      feed.NewNormalizer(mapping),
		Store:           visitStore,
		Publisher:       publisher,
		Metrics:         metrics.NewEngineMetrics("petwatch"),
		Entities:        entities,
		Boundary:        boundary,
		Interval:        viper.GetDuration("engine.interval"),
		Epsilon:         viper.GetFloat64("engine.epsilon"),
		DisableFallback: viper.GetBool("engine.disable_fallback"),
	})
	if err != nil {
		log.Error("failed to create scheduler", "error", err)
		return err
	}

	query, err := history.New(visitStore)
	if err != nil {
		log.Error("failed to create history query", "error", err)
		return err
	}

	apiServer, err := api.NewServer(&api.ServerConfig{
		Logger:    logger.Component(log, "api"),
		Query:     query,
		Scheduler: scheduler,
		Metrics:   metrics.NewAPIMetrics("petwatch"),
		Entities:  entities,
		HTTPPort:  viper.GetInt("engine.http.port"),
	})
	if err != nil {
		log.Error("failed to create API server", "error", err)
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
		if err := scheduler.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errCh:
		log.Error("service error", "error", err)
		cancel()
		wg.Wait()
		return err
	}

	wg.Wait()
	log.Info("petwatch engine stopped")
	return nil
}
