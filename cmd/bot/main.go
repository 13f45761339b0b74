package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/Jacobbrewer1/sprout/cmd/bot/config"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; the environment may be set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded:", err)
	}

	a, err := InitializeApp()
	if err != nil {
		log.Fatalln(err)
	}
	config.Parse(a.Log())
	a.Info("Starting application")
	if err := a.Run(); err != nil {
		a.Error("Error running application", slog.String(logging.KeyError, err.Error()))
		os.Exit(1)
	}
}
