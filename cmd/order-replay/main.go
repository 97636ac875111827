package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/localpepas/orderlink/config"
	"github.com/localpepas/orderlink/internal/broker/kafka"
	"github.com/localpepas/orderlink/internal/broker/messages"
	"github.com/localpepas/orderlink/internal/events"
	"github.com/localpepas/orderlink/internal/services/orderstate"
)

// Rebuilds an order-state store from the recorded event topic and prints what
// the live gateway would be holding. Ctrl+C stops the replay and dumps the
// summary.
func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	topic := cfg.Kafka.OrderEventsTopicName
	if topic == "" {
		topic = "pedido.events"
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	// Без consumer group: каждый запуск читает топик с начала.
	consumer := kafka.NewConsumer(brokers, topic, "")
	defer func() { _ = consumer.Close() }()

	store := orderstate.NewStore(0)
	var replayed, skipped int

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = consumer.Consume(ctx, func(key, value []byte) error {
		var rec messages.OrderEventRecorded
		if err := json.Unmarshal(value, &rec); err != nil {
			slog.Warn("skipping unreadable record", "key", string(key), "error", err.Error())
			skipped++
			return nil
		}
		ev, err := events.Classify(rec.Payload)
		if err != nil {
			slog.Warn("skipping unclassifiable record", "event_id", rec.EventID, "error", err.Error())
			skipped++
			return nil
		}
		store.Apply(ev, rec.Payload)
		replayed++
		return nil
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("replay stopped", "error", err.Error())
	}

	printSummary(store, replayed, skipped)
}

func printSummary(store *orderstate.Store, replayed, skipped int) {
	fmt.Printf("replayed %d events (%d skipped)\n\n", replayed, skipped)

	orders := store.Orders()
	if len(orders) == 0 {
		fmt.Println("no orders in the log")
	}
	for _, o := range orders {
		v := orderstate.ViewOf(o)
		fmt.Printf("%-12s %-15s %-20s total=%.2f", o.ID, o.Status, v.StatusLabel, o.Total)
		if v.HasCourier {
			fmt.Printf("  repartidor=%s", v.Courier.FullName)
		}
		if v.HasCoordinates {
			fmt.Printf("  pos=%.5f,%.5f", v.Coordinates.Latitude, v.Coordinates.Longitude)
		}
		fmt.Println()
	}

	w := store.Wallet()
	if !w.UpdatedAt.IsZero() {
		fmt.Printf("\nwallet: $%.2f / %.6f crypto (as of %s)\n",
			w.FiatBalance, w.CryptoBalance, w.UpdatedAt.Format("15:04:05"))
	}
}
