package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/subwire/purchases-go/backend"
	"github.com/subwire/purchases-go/backend/rest"
	"github.com/subwire/purchases-go/catalog"
	"github.com/subwire/purchases-go/config"
	"github.com/subwire/purchases-go/purchases"
	"github.com/subwire/purchases-go/receipt"
	receiptfile "github.com/subwire/purchases-go/receipt/file"
	receiptmemory "github.com/subwire/purchases-go/receipt/memory"
	"github.com/subwire/purchases-go/store"
	storememory "github.com/subwire/purchases-go/store/memory"
)

// Drives one purchase end to end against an in-process store broker and
// the configured backend.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if cfg.APIKey == "" || cfg.AppUserID == "" {
		log.Fatal("SUBWIRE_API_KEY and SUBWIRE_APP_USER_ID must be set")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	monthly := store.Product{
		ID:                 "com.subwire.demo.monthly",
		Title:              "Demo Monthly",
		Price:              decimal.RequireFromString("9.99"),
		Currency:           "USD",
		SubscriptionPeriod: "P1M",
	}

	queue := storememory.NewQueue()
	defer queue.Close()
	queue.RegisterProduct(monthly)
	queue.SetAutoApprove(true)

	var source receipt.Source
	if cfg.ReceiptPath != "" {
		source = receiptfile.NewSource(cfg.ReceiptPath)
	} else {
		source = receiptmemory.NewSource([]byte("demo-receipt"))
	}

	client := rest.NewClient(logger, cfg.APIKey,
		rest.WithBaseURL(cfg.BaseURL),
		rest.WithTimeout(cfg.HTTPTimeout),
	)

	p, err := purchases.New(logger, cfg.APIKey, cfg.AppUserID, queue, source,
		purchases.WithBackend(client),
		purchases.WithCatalog(catalog.NewClient(logger, queue, catalog.DefaultTTL)),
	)
	if err != nil {
		log.Fatal("Failed to create purchases:", err)
	}
	defer p.Close()

	done := make(chan struct{})
	p.SetObserver(&consoleObserver{logger: logger, done: done})

	p.Products(context.Background(), []string{monthly.ID}, func(products []store.Product) {
		for _, product := range products {
			fmt.Println("Available:", catalog.DisplayName(product))
		}
	})

	fmt.Println("Purchasing", monthly.ID, "as", cfg.AppUserID,
		"(sdk", purchases.FrameworkVersion()+")")
	p.Purchase(monthly)

	select {
	case <-done:
	case <-time.After(time.Minute):
		logger.Warn("Timed out waiting for a purchase outcome")
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

type consoleObserver struct {
	logger *zap.Logger
	done   chan struct{}
}

func (o *consoleObserver) OnPurchaseCompleted(tx *store.Transaction, info *backend.PurchaserInfo) {
	fmt.Println("Completed", tx.ID, "purchaser info:", string(info.Raw))
	close(o.done)
}

func (o *consoleObserver) OnPurchaseFailed(tx *store.Transaction, err error) {
	fmt.Println("Failed", tx.ID+":", err)
	close(o.done)
}

func (o *consoleObserver) OnPurchaserInfoUpdated(info *backend.PurchaserInfo) {
	o.logger.Info("Purchaser info updated", zap.ByteString("info", info.Raw))
}
