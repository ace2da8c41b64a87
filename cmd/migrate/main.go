package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Loafy-club/Booking/migrations"
	"github.com/Loafy-club/Booking/pkg/config"
	"github.com/Loafy-club/Booking/pkg/database"
	"github.com/Loafy-club/Booking/pkg/logger"
	flag "github.com/spf13/pflag"
)

func main() {
	steps := flag.IntP("steps", "n", 1, "number of migrations to roll back with down")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] up|down|version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "migrate",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLog := logger.Get()

	migrator, err := database.NewMigrator(migrations.FS, ".", cfg.Database.URL())
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to open migrations: %v", err))
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			appLog.Warn(fmt.Sprintf("Failed to close migrator: %v", err))
		}
	}()

	switch command {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down(*steps)
	case "version":
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		appLog.Fatal(err.Error())
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to read schema version: %v", err))
	}
	appLog.Info(fmt.Sprintf("Schema at version %d (dirty=%t)", version, dirty))
}
