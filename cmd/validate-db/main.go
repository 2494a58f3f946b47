package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"qosd-go/internal/config"
	"qosd-go/internal/database"
)

type eventStore interface {
	database.EventStore
	Validate(ctx context.Context) error
	Stats(ctx context.Context) (database.Stats, error)
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: validate-db <collector.yaml>")
	}

	cfg, err := config.LoadCollector(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := open(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Storage.Driver, err)
	}
	defer store.Close()

	fmt.Printf("✅ %s store reachable\n", cfg.Storage.Driver)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("\n🔍 Validating telemetry_events...")
	if err := store.Validate(ctx); err != nil {
		log.Fatalf("❌ Schema validation failed: %v", err)
	}
	fmt.Println("  ✅ telemetry_events table structure")

	stats, err := store.Stats(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to read statistics: %v", err)
	}

	fmt.Println("\n📊 Event statistics:")
	fmt.Printf("  📈 Events: %d\n", stats.Events)
	fmt.Printf("  📈 Routers: %d\n", stats.Routers)

	personas := make([]string, 0, len(stats.Personas))
	for p := range stats.Personas {
		personas = append(personas, p)
	}
	sort.Strings(personas)
	for _, p := range personas {
		name := p
		if name == "" {
			name = "(none)"
		}
		fmt.Printf("  📈 %s: %d\n", name, stats.Personas[p])
	}

	latest, err := store.RecentEvents(ctx, 1)
	if err != nil {
		log.Fatalf("❌ Failed to read events: %v", err)
	}
	if len(latest) == 0 {
		fmt.Println("  ⚠️  No events stored yet")
	} else {
		fmt.Printf("  ✅ Latest event %s from %s at %s\n", latest[0].Event, latest[0].Router, latest[0].Timestamp)
	}

	fmt.Println("\n🎉 Event store is ready for the collector")
}

func open(cfg *config.CollectorServiceConfig) (eventStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := database.NewPostgreSQL(cfg.Storage.Database)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "sqlite":
		db, err := database.NewSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("storage.driver must be postgres or sqlite")
	}
}
