package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/visaprep/backend/repository"
	"github.com/visaprep/backend/services"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Setup structured logging with JSON format
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	config := services.LoadConfig()
	server := services.NewServer(config)
	ctx := context.Background()

	if config.Database.URL != "" {
		repo, err := openDatabase(config.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := repo.AutoMigrate(); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to database")

		if config.Database.Seed {
			seeder := services.NewDatabaseSeeder(repo, repo, config.Interview.StarterCredits)
			if err := seeder.SeedDatabase(ctx); err != nil {
				slog.Error("Failed to seed database", "error", err)
			}
		}
		server.SetDatabase(repo)
	}

	if config.Redis.URL != "" {
		client, err := openRedis(ctx, config.Redis.URL)
		if err != nil {
			slog.Error("Failed to connect to redis, using in-process session lock", "error", err)
		} else {
			defer client.Close()
			server.SetRedis(client)
		}
	}

	if err := server.InitializeServices(ctx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	server.Start()
}

func openDatabase(cfg services.DatabaseConfig) (*repository.GORMRepository, error) {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	return repository.NewGORMRepository(db), nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	slog.Info("Connected to redis")
	return client, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}
