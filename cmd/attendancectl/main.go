package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/kcea-attendance/internal/repository"
	"github.com/noah-isme/kcea-attendance/internal/service"
	"github.com/noah-isme/kcea-attendance/pkg/config"
	"github.com/noah-isme/kcea-attendance/pkg/database"
	"github.com/noah-isme/kcea-attendance/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Log.Format = "console"
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	users := repository.NewUserRepository(db)
	cli := &commandLine{
		out: os.Stdout,
		migrate: func(command string, args ...string) error {
			return database.RunMigrations(db, command, args...)
		},
		periods: service.NewPeriodService(repository.NewPeriodRepository(db), cfg.Attendance.Location(), logr),
		staff: service.NewAuthService(users, validator.New(), logr, service.AuthConfig{
			AccessTokenSecret:  cfg.JWT.Secret,
			AccessTokenExpiry:  cfg.JWT.Expiration,
			RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
			Issuer:             cfg.JWT.Issuer,
		}),
		schedule: cfg.Attendance.PeriodSchedule,
	}

	if err := cli.run(context.Background(), os.Args); err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
