package main

import (
	"context"
	"log"
	"os"
	"time"

	"tradepost/internal/middleware"
	"tradepost/simulator"
)

func main() {
	// The simulator signs its own tokens, so it needs the same secret as
	// the server it is driving.
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	middleware.SetSecret(secret)

	config := simulator.SimConfig{
		NumUsers:         20,
		NumListings:      8,
		SimulationTime:   10 * time.Minute,
		MessageFrequency: 200.0,
		ReadFrequency:    80.0,
		StatusChangeRate: 0.1,
		DisconnectRate:   0.01,
		ReconnectRate:    0.05,
		ZipfS:            1.07,
		EngineURL:        "http://localhost:8080",
	}

	if url := os.Getenv("ENGINE_URL"); url != "" {
		config.EngineURL = url
	}

	sim := simulator.NewEnhancedSimulator(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.SimulationTime)
	defer cancel()

	log.Printf("Starting simulation with configuration:")
	log.Printf("- Engine URL: %s", config.EngineURL)
	log.Printf("- Number of users: %d", config.NumUsers)
	log.Printf("- Number of listings: %d", config.NumListings)
	log.Printf("- Simulation time: %v", config.SimulationTime)
	log.Printf("- Message frequency: %.2f messages/user/hour", config.MessageFrequency)
	log.Printf("- Read frequency: %.2f sweeps/user/hour", config.ReadFrequency)
	log.Printf("- Disconnect rate: %.2f", config.DisconnectRate)
	log.Printf("- Reconnect rate: %.2f", config.ReconnectRate)
	log.Printf("- Zipf parameter: %.2f", config.ZipfS)

	if err := sim.Run(ctx); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	metrics := sim.GetMetrics()
	log.Printf("\nSimulation completed. Final metrics:")
	log.Printf("- Total users: %d", metrics.TotalUsers)
	log.Printf("- Active users at end: %d", metrics.ActiveUsers)
	log.Printf("- Total chats: %d", metrics.TotalChats)
	log.Printf("- Total messages: %d", metrics.TotalMessages)
	log.Printf("- Mark-read sweeps: %d", metrics.TotalReads)
	log.Printf("- Status changes: %d", metrics.StatusChanges)
	log.Printf("- Error count: %d", metrics.ErrorCount)
}
