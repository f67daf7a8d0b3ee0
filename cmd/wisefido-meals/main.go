package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/config"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/database"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/events"
	httpapi "github.com/wglickman33/mykosherdelivery-sub002/internal/http"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/logger"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/menu"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/ordering"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/payment"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/repository"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/service"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/store"
)

// demoTenantID 无数据库时的演示机构
const demoTenantID = "00000000-0000-0000-0000-000000000001"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-meals")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	deadline, err := ordering.NewDeadlineCalculator(cfg.Ordering.Location, cfg.Ordering.CutoffHour)
	if err != nil {
		log.Fatal("Invalid ordering config", zap.Error(err))
	}
	pricing, err := ordering.NewPricingEngine(cfg.Ordering.TaxRate)
	if err != nil {
		log.Fatal("Invalid tax rate", zap.Error(err))
	}

	// 仓库：DB 不可用时回退到内存仓库（联调用）
	var (
		db        *sql.DB
		menuRepo  repository.MenuRepository
		residents repository.ResidentsRepository
		orders    repository.ResidentOrdersRepository
	)
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for wisefido-meals")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory repositories", zap.Error(err))
		}
	}
	if db != nil {
		menuRepo = repository.NewPostgresMenuRepository(db)
		residents = repository.NewPostgresResidentsRepository(db)
		orders = repository.NewPostgresResidentOrdersRepository(db)
	} else {
		memMenu := repository.NewMemoryMenuRepo()
		memResidents := repository.NewMemoryResidentsRepo()
		if os.Getenv("SEED_DEMO") != "false" {
			seedDemo(memMenu, memResidents, log)
		}
		menuRepo = memMenu
		residents = memResidents
		orders = repository.NewMemoryResidentOrdersRepo(memResidents)
	}

	// Redis：菜单缓存 + 订单事件流（可选）
	var (
		redisClient *redis.Client
		kv          store.KV
		publishers  events.MultiPublisher
	)
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn("Redis unavailable, menu cache and event stream disabled", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			kv = store.NewRedisKV(redisClient)
			publishers = append(publishers, events.NewRedisStreamPublisher(redisClient, cfg.Events.Stream, 10000))
		}
		pingCancel()
	}

	if cfg.MQTT.Enabled {
		client, err := events.NewMQTTClient(&cfg.MQTT)
		if err != nil {
			log.Warn("MQTT connect failed, order events will not be pushed", zap.Error(err))
		} else {
			defer client.Disconnect(250)
			publishers = append(publishers, events.NewMQTTPublisher(client, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS))
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(publishers) > 0 {
		publisher = events.LoggingPublisher{Next: publishers, Logger: log}
	}

	var gateway payment.Gateway
	if cfg.Payment.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.Payment.StripeAPIBase, cfg.Payment.StripeSecretKey,
			cfg.Payment.Timeout, cfg.Payment.RetryCount, log)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, using fake payment gateway")
		gateway = payment.NewFakeGateway()
	}

	catalog := menu.NewCachedCatalog(menuRepo, kv, cfg.Ordering.MenuCacheTTL, log)
	orderSvc := service.NewResidentOrderService(service.ResidentOrderServiceDeps{
		Orders:         orders,
		Residents:      residents,
		Catalog:        catalog,
		Gateway:        gateway,
		Publisher:      publisher,
		Deadline:       deadline,
		Pricing:        pricing,
		Currency:       cfg.Ordering.Currency,
		PaymentTimeout: cfg.Payment.Timeout,
		StaleAfter:     cfg.Payment.StaleAfter,
		EventTimeout:   cfg.Events.PublishTimeout,
		Logger:         log,
	})

	router := httpapi.NewRouter(log)
	router.RegisterMenuRoutes(httpapi.NewMenuHandler(catalog, log))
	router.RegisterResidentOrderRoutes(httpapi.NewResidentOrderHandler(orderSvc, log))

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		log.Error("HTTP server stopped", zap.Error(err))
	}
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Payment.Timeout+5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = database.Close(db)
}

// seedDemo 内存模式下的演示数据：一个住户 + 一份早/午/晚餐菜单
func seedDemo(menuRepo *repository.MemoryMenuRepo, residents *repository.MemoryResidentsRepo, log *zap.Logger) {
	residentID := residents.PutResident(domain.Resident{
		TenantID:        demoTenantID,
		Name:            "Demo Resident",
		IsActive:        true,
		BillingName:     "Demo Family",
		BillingEmail:    "family@example.com",
		DeliveryAddress: "Room 101",
	})
	for _, it := range []domain.MenuItem{
		{Name: "Bagel", Category: domain.CategoryMain, MealType: domain.MealTypeBreakfast, Price: decimal.NewFromInt(3),
			RequiresVariant: true, VariantOptions: []string{"plain", "sesame", "everything", "whole wheat"}},
		{Name: "Coffee", Category: domain.CategorySide, MealType: domain.MealTypeBreakfast, Price: decimal.NewFromInt(2)},
		{Name: "Matzo Ball Soup", Category: domain.CategorySoup, MealType: domain.MealTypeLunch, Price: decimal.NewFromInt(5)},
		{Name: "Brisket", Category: domain.CategoryEntree, MealType: domain.MealTypeDinner, Price: decimal.RequireFromString("12.50")},
	} {
		it.IsActive = true
		if _, err := menuRepo.UpsertMenuItem(context.Background(), demoTenantID, &it); err != nil {
			log.Warn("Failed to seed menu item", zap.String("name", it.Name), zap.Error(err))
		}
	}
	log.Info("Seeded demo data", zap.String("tenant_id", demoTenantID), zap.String("resident_id", residentID))
}
