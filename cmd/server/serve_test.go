package main

import (
	"context"
	"testing"
	"time"

	"ocobot/internal/config"
	"ocobot/internal/exchange"
	"ocobot/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{
			OrderTimeout:      time.Second,
			StoreTimeout:      time.Second,
			PollInterval:      10 * time.Millisecond,
			PollFanout:        2,
			CancelRetries:     2,
			CancelBackoff:     time.Millisecond,
			IntakeWorkers:     2,
			IntakeBuffer:      8,
			DedupTTL:          time.Hour,
			FlushSchedule:     "@every 1s",
			DefaultQuantity:   0.01,
			FallbackSingleLeg: true,
		},
	}
}

func TestBuildPipeline_Paper(t *testing.T) {
	paper := exchange.NewPaper()
	paper.SetMarkPrice("ETHUSDT", 3000)

	p, err := buildPipeline(testConfig(), paper, nil, nil)
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.supervisor.Start(ctx)
	defer func() {
		cancel()
		p.supervisor.Wait()
	}()

	err = p.intake.Submit(models.Signal{
		ID:         "cmd-1",
		Symbol:     "ETHUSDT",
		Side:       models.SideBuy,
		StopLoss:   models.PercentageLeg(0.02),
		TakeProfit: models.PercentageLeg(0.05),
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(p.oco.ActivePairs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	pairs := p.oco.ActivePairs()
	if len(pairs) != 1 {
		t.Fatalf("active pairs = %d, want 1", len(pairs))
	}
	if pairs[0].Quantity != 0.01 {
		t.Errorf("quantity = %v, want default 0.01", pairs[0].Quantity)
	}
	if paper.OpenOrders("ETHUSDT") != 2 {
		t.Errorf("open orders = %d, want 2", paper.OpenOrders("ETHUSDT"))
	}
}

func TestBuildPipeline_BadStrategiesFile(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.StrategiesFile = "/nonexistent/strategies.yaml"

	if _, err := buildPipeline(cfg, exchange.NewPaper(), nil, nil); err == nil {
		t.Error("expected error for missing strategies file")
	}
}

func TestDBHandle_CloseWithoutConnection(t *testing.T) {
	var h dbHandle
	if err := h.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
