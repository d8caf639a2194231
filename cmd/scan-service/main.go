package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-scanning/internal/auth"
	"ms-scanning/internal/config"
	"ms-scanning/internal/database/migrations"
	"ms-scanning/internal/kafka"
	"ms-scanning/internal/logger"
	"ms-scanning/internal/scan"
	"ms-scanning/internal/scan/counter"
	scandb "ms-scanning/internal/scan/db"
	"ms-scanning/internal/scan/scan_api"
	"ms-scanning/internal/scan/session"
	"ms-scanning/internal/tickets"
	ticketdb "ms-scanning/internal/tickets/db"
	"ms-scanning/internal/tickets/ticket_api"
)

func openDatabase(cfg *config.Config, log *logger.Logger) *bun.DB {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("failed to connect to postgres: %v", err))
	}
	log.Info("DATABASE", "Postgres connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func openRedis(cfg *config.Config, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("failed to connect to redis at %s: %v", cfg.Redis.Addr, err))
	}
	log.Info("REDIS", fmt.Sprintf("Connected to redis at %s", cfg.Redis.Addr))

	return client
}

func main() {
	_ = godotenv.Load() // Loads .env file if present

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	bunDB := openDatabase(cfg, log)
	defer bunDB.Close()

	if err := migrations.NewRunner(bunDB, migrations.DefaultOptions()).RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("migrations failed: %v", err))
	}

	redisClient := openRedis(cfg, log)
	defer redisClient.Close()

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.ScanRecorded, cfg.Kafka.Topics.TicketIssued}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("topic bootstrap failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ScanRecorded, cfg.Kafka.Topics.TicketIssued)
		defer producer.Close()
	}

	ticketService := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, producerOrNilTicket(producer), log)

	sessions := session.NewCache(redisClient, cfg.Scan.SessionTTL, cfg.Scan.SessionGrace)
	admissions := counter.NewCounter(redisClient)
	scanService := scan.NewScanService(&scandb.DB{Bun: bunDB}, sessions, admissions, producerOrNilScan(producer), log)

	scanHandler := scan_api.NewHandler(scanService, log)
	ticketHandler := ticket_api.NewHandler(ticketService, log)

	ctx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentEvents, cfg.Kafka.GroupID)
		defer consumer.Close()
		go consumer.Start(ctx, func(evt kafka.PaymentEvent) {
			if evt.Status != "completed" {
				return
			}
			for _, ticketID := range evt.TicketIDs {
				if err := ticketService.MarkPaid(ticketID); err != nil {
					log.Error("KAFKA", fmt.Sprintf("failed to mark ticket %s paid for order %s: %v", ticketID, evt.OrderID, err))
				}
			}
		})
	}

	r := chi.NewRouter()

	r.Route("/scan", func(r chi.Router) {
		r.Post("/request", scanHandler.RequestScan)
		r.Get("/occupancy/{eventID}", scanHandler.GetOccupancy)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Scan.AgentTokenSecret))
			r.Post("/confirm", scanHandler.ConfirmScan)
			r.Get("/log/{ticketID}", scanHandler.GetScanHistory)
		})
	})

	r.Route("/tickets", func(r chi.Router) {
		r.Get("/magic/{token}", ticketHandler.GetTicketByMagicToken)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Scan.AgentTokenSecret))
			r.Post("/", ticketHandler.IssueTicket)
			r.Get("/{ticketID}", ticketHandler.GetTicket)
			r.Get("/{ticketID}/qr", ticketHandler.GetTicketQR)
			r.Post("/{ticketID}/paid", ticketHandler.MarkPaid)
			r.Post("/{ticketID}/invalidate", ticketHandler.Invalidate)
			r.Post("/{ticketID}/refund", ticketHandler.Refund)
		})
	})

	r.Route("/events", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Scan.AgentTokenSecret))
		r.Get("/{eventID}/tickets", ticketHandler.ListEventTickets)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Scan service on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopConsumer()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "Scan service shutdown complete")
}

// producerOrNilScan avoids handing a typed-nil *kafka.Producer to the scan
// service's Notifier interface when Kafka is disabled.
func producerOrNilScan(p *kafka.Producer) scan.Notifier {
	if p == nil {
		return nil
	}
	return p
}

func producerOrNilTicket(p *kafka.Producer) tickets.Notifier {
	if p == nil {
		return nil
	}
	return p
}
