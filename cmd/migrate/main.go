package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/freddennis10/astra-app-sub001/pkg/database"
	"github.com/freddennis10/astra-app-sub001/pkg/utilities"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	flag.Parse()

	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	// init db
	cfg := database.ConfigFromEnv()
	sqlDB, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	if *down > 0 {
		if err := database.Rollback(sqlDB, *down); err != nil {
			sugar.Fatalf("rollback: %v", err)
		}
		sugar.Infow("rolled back", "steps", *down)
		return
	}
	if err := database.Migrate(sqlDB); err != nil {
		sugar.Fatalf("migrate: %v", err)
	}
	sugar.Info("schema up to date")
}
