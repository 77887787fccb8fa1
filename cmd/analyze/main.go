// Command analyze runs one chart analysis from the command line and prints
// the response envelope as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/elitetradingcoach/chart-analysis/internal/analysis"
	"github.com/elitetradingcoach/chart-analysis/internal/config"
	"github.com/elitetradingcoach/chart-analysis/internal/usage"
	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

func main() {
	var (
		configPath  = flag.String("config", "", "optional YAML config path")
		imagePath   = flag.String("image", "", "path to the chart image")
		description = flag.String("description", "", "free-text chart description")
		mode        = flag.String("mode", "", "speed mode (super_fast|fast|balanced|high_accuracy)")
		userID      = flag.String("user", "", "optional user id for log correlation")
		timeout     = flag.Duration("timeout", 60*time.Second, "overall request timeout")
	)
	flag.Parse()

	// Missing .env is fine; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var image []byte
	if *imagePath != "" {
		image, err = os.ReadFile(*imagePath)
		if err != nil {
			log.Fatalf("read image: %v", err)
		}
	}
	if len(image) == 0 && !cfg.MockMode {
		log.Fatal("an -image is required outside mock mode")
	}

	tracker := usage.NewTracker(usage.Targets{
		MinSuccessRate:   cfg.Cost.MinSuccessRate,
		MaxAvgLatencyMs:  float64(cfg.Cost.MaxAvgLatencyMs),
		MaxCostPerReqUSD: cfg.Cost.MaxCostPerReqUSD,
		DailyCostCapUSD:  cfg.Cost.DailyLimitUSD,
		WarningPct:       cfg.Cost.WarningPct,
	})
	client := vision.NewClient(vision.Config{
		APIKey:                   cfg.Vision.APIKey,
		BaseURL:                  cfg.Vision.BaseURL,
		Model:                    cfg.Vision.Model,
		MaxTokens:                cfg.Vision.MaxTokens,
		TimeoutMs:                cfg.Vision.TimeoutMs,
		MaxRetries:               cfg.Vision.MaxRetries,
		BackoffBaseMs:            cfg.Vision.BackoffBaseMs,
		BackoffMaxMs:             cfg.Vision.BackoffMaxMs,
		RequestsPerMinute:        cfg.Vision.RequestsPerMinute,
		TierDiscount:             cfg.Cost.TierDiscount,
		RateLimitRequests:        cfg.Resilience.RateLimitRequests,
		RateLimitWindowMs:        cfg.Resilience.RateLimitWindowMs,
		CircuitFailureThreshold:  cfg.Resilience.CircuitFailureThreshold,
		CircuitRecoveryTimeoutMs: cfg.Resilience.CircuitRecoveryTimeoutMs,
	}, tracker)
	svc := analysis.NewService(cfg, client, tracker)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp := svc.Analyze(ctx, analysis.Request{
		Image:       image,
		Description: *description,
		SpeedMode:   *mode,
		UserID:      *userID,
	})

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
	if !resp.Success {
		os.Exit(1)
	}
}
