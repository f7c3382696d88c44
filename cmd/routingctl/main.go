// routingctl runs maintenance tasks against the request routing database.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"request-routing-api/config"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	a := &app{
		settings: config.LoadSettings(),
		openDB:   config.OpenDB,
		out:      os.Stdout,
	}
	if err := newRootCommand(a).Execute(); err != nil {
		os.Exit(1)
	}
}
