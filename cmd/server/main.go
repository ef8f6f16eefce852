/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the production engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (environment variables as defaults)
  2. Initialize SQLite store (migrates and seeds the default chart)
  3. Build ledger and production service
  4. Load the plant catalog, if one is given
  5. Choose the event publisher (Kafka when brokers are set, else log)
  6. Start the reservation sweep
  7. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port                 HTTP server port (PORT, default 8080)
  -db                   SQLite database path (DATABASE_PATH, default production.db)
                        Use ":memory:" for in-memory database
  -seed                 JSON catalog to load on startup (SEED_CATALOG)
  -kafka-brokers        Comma-separated brokers (KAFKA_BROKERS)
  -kafka-topic          Event topic (KAFKA_TOPIC, default production-events)
  -strict-reservation   Fail reservations on any shortage (STRICT_RESERVATION)
  -reserve-interval     Reservation sweep interval (RESERVE_INTERVAL, default 5m)
                        Use 0 to disable the sweep

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reservation sweep
  4. Flush and close the event publisher
  5. Close database connection

EXAMPLES:
  ./server -db="./data/plant.db" -seed="./plant.json"
  KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Reservation sweep
  - factory/catalog.go: Catalog format
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/warp/production-engine/api"
	"github.com/warp/production-engine/events"
	"github.com/warp/production-engine/factory"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
	"github.com/warp/production-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DATABASE_PATH", "production.db"), "SQLite database path")
	seedPath := flag.String("seed", envString("SEED_CATALOG", ""), "JSON catalog to load on startup")
	brokers := flag.String("kafka-brokers", envString("KAFKA_BROKERS", ""), "Comma-separated Kafka brokers")
	topic := flag.String("kafka-topic", envString("KAFKA_TOPIC", "production-events"), "Kafka topic for domain events")
	strict := flag.Bool("strict-reservation", envBool("STRICT_RESERVATION", false), "Fail reservations on any shortage")
	interval := flag.Duration("reserve-interval", envDuration("RESERVE_INTERVAL", 5*time.Minute), "Reservation sweep interval, 0 disables")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	l := ledger.New(store, store)
	service := production.NewService(store, l)
	service.StrictReservation = *strict

	if *seedPath != "" {
		cat, err := factory.ReadCatalog(*seedPath)
		if err != nil {
			log.Fatalf("Failed to read catalog: %v", err)
		}
		if err := factory.NewLoader(store, l).Load(context.Background(), cat); err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
		log.Printf("Loaded catalog %s: %d products, %d BOMs, %d routings",
			*seedPath, len(cat.Products), len(cat.BOMs), len(cat.Routings))
	}

	var publisher events.Publisher = events.LogPublisher{}
	if *brokers != "" {
		publisher = events.NewKafkaPublisher(strings.Split(*brokers, ","), *topic)
		log.Printf("Publishing events to kafka topic %s", *topic)
	}
	defer publisher.Close()

	scheduler := api.NewReservationScheduler(service)
	scheduler.CheckInterval = *interval
	scheduler.Enabled = *interval > 0
	scheduler.Start()

	handler := api.NewHandler(service, publisher)
	handler.Catalog = store
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	scheduler.Stop()

	log.Println("Server stopped")
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
