package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-orders/internal/adapter/storage"
	"github.com/rl1809/stock-orders/internal/core/cart"
	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/core/progress"
	"github.com/rl1809/stock-orders/internal/core/service"
	"github.com/rl1809/stock-orders/internal/port"
)

const (
	productID    = "stress-sku"
	initialStock = 10000
)

func main() {
	mysqlDSN := flag.String("mysql", "", "MySQL DSN; empty uses the in-memory store")
	redisAddr := flag.String("redis", "", "Redis address; empty uses in-process counters")
	totalOrders := flag.Int("orders", 50, "number of orders to submit and pick")
	perOrder := flag.Int("qty", 7, "units ordered per order")
	flag.Parse()

	ctx := context.Background()

	var store port.DocumentStore = storage.NewMemoryStore()
	if *mysqlDSN != "" {
		db, err := sql.Open("mysql", *mysqlDSN)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		defer db.Close()
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to prepare schema: %v", err)
		}
		store = adapter
	}

	var sequence port.SequenceRepository = storage.NewDocumentSequence(store)
	var guard port.GuardRepository = storage.NewMemoryGuard()
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		adapter := storage.NewRedisAdapter(rdb)
		sequence, guard = adapter, adapter
	}

	// Reset the product
	_ = store.Delete(ctx, port.Doc("products", productID))
	catalog := service.NewCatalogService(store)
	if _, err := catalog.CreateProduct(ctx, domain.Product{
		ID: productID, Name: "Stress item", PackageQuantity: 1, StockQuantity: initialStock,
	}); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}
	products, err := catalog.ListProducts(ctx, "")
	if err != nil {
		log.Fatalf("failed to list products: %v", err)
	}

	local := storage.NewMemoryLocalStore()
	orders := service.NewOrderService(store, sequence, nil)
	picking := service.NewPickingService(store, guard, nil, progress.NewStore(local), service.PickingConfig{})

	// Submit orders concurrently, one cart per picker
	orderIDs := make([]string, *totalOrders)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *totalOrders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := cart.New(local, cart.WithStorageKey(fmt.Sprintf("stress_cart:%d", i)))
			c.SetQuantity(productID, *perOrder)
			order, err := orders.Submit(ctx, service.SubmitRequest{
				UserID:   fmt.Sprintf("user-%d", i),
				Cart:     c,
				Products: products,
			})
			if err != nil {
				log.Printf("submit %d failed: %v", i, err)
				return
			}
			orderIDs[i] = order.ID
		}(i)
	}
	wg.Wait()
	submitElapsed := time.Since(start)

	// Pick every order concurrently; each picker takes one unit less than ordered
	var successCount, failCount atomic.Int32
	var pickedUnits atomic.Int64
	start = time.Now()
	for _, id := range orderIDs {
		if id == "" {
			failCount.Add(1)
			continue
		}
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			sess, err := picking.Open(ctx, orderID, false)
			if err != nil {
				failCount.Add(1)
				return
			}
			var units int
			for _, item := range sess.View().Items {
				qty := item.QuantityOrdered - 1
				if err := sess.Confirm(item.DocID, qty); err != nil {
					failCount.Add(1)
					return
				}
				units += qty
			}
			if _, err := picking.Complete(ctx, orderID); err != nil {
				log.Printf("complete %s failed: %v", orderID, err)
				failCount.Add(1)
				return
			}
			pickedUnits.Add(int64(units))
			successCount.Add(1)
		}(id)
	}
	wg.Wait()
	pickElapsed := time.Since(start)

	p, err := catalog.GetProduct(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read product: %v", err)
	}
	expected := initialStock - int(pickedUnits.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Orders:           %d\n", *totalOrders)
	fmt.Printf("Picked:           %d\n", successCount.Load())
	fmt.Printf("Failed:           %d\n", failCount.Load())
	fmt.Printf("Units Picked:     %d\n", pickedUnits.Load())
	fmt.Printf("Submit Duration:  %v\n", submitElapsed)
	fmt.Printf("Pick Duration:    %v\n", pickElapsed)
	fmt.Println("==========================================")

	if p.StockQuantity == expected {
		fmt.Printf("PASS: final stock %d equals initial minus picked\n", p.StockQuantity)
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", expected, p.StockQuantity)
	}
	if failCount.Load() == 0 {
		fmt.Println("PASS: every order picked")
	} else {
		fmt.Printf("FAIL: %d orders could not be picked\n", failCount.Load())
	}
}
