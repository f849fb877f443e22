// Package main is a read-only reporting tool for detection accuracy.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"veracity-soc/internal/config"
	"veracity-soc/internal/groundtruth"
	"veracity-soc/internal/schema"
	"veracity-soc/internal/stats"
	"veracity-soc/internal/storage"
)

func main() {
	var (
		windowHours int
		recentLimit int
		asJSON      bool
	)

	flag.IntVar(&windowHours, "window", 24, "Reporting window in hours")
	flag.IntVar(&recentLimit, "recent", 10, "Number of recent detections to list")
	flag.BoolVar(&asJSON, "json", false, "Emit the raw stats as JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	chClient, err := storage.NewClickHouseClient(cfg.ClickHouse)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer chClient.Close()

	detections := storage.NewDetectionStore(chClient, logger)
	groundTruth := storage.NewGroundTruthStore(chClient, logger)
	tracker := groundtruth.NewTracker(groundTruth, logger)
	engine := stats.NewEngine(cfg.Stats, detections, tracker, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	window := time.Duration(windowHours) * time.Hour
	report, err := engine.ComputeStats(ctx, window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats unavailable: %v\n", err)
		os.Exit(1)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode stats: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printReport(report)

	if recentLimit > 0 {
		recent, err := engine.RecentDetections(ctx, recentLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "recent detections unavailable: %v\n", err)
			os.Exit(1)
		}
		printRecent(recent)
	}
}

func printReport(s schema.DetectionStats) {
	fmt.Printf("Detection accuracy report (last %dh)\n", s.TimeRangeHours)
	fmt.Println("----------------------------------------")
	fmt.Printf("Total scored entries:  %d\n", s.TotalDetections)
	fmt.Printf("Threats detected:      %d\n", s.ThreatsDetected)
	fmt.Printf("Threats missed:        %d\n", s.ThreatsMissed)
	fmt.Printf("True positives:        %d\n", s.TruePositives)
	fmt.Printf("False positives:       %d\n", s.FalsePositives)
	fmt.Println()
	fmt.Printf("Accuracy:              %.2f%%\n", s.DetectionAccuracy)
	fmt.Printf("Detection rate:        %.2f%%\n", s.DetectionRate)
	fmt.Printf("Precision:             %.2f%%\n", s.Precision)
	fmt.Printf("False positive rate:   %.2f%%\n", s.FalsePositiveRate)
	fmt.Printf("F1 score:              %.2f\n", s.F1Score)
	fmt.Println()
	fmt.Printf("Missed breakdown:      red_team=%d analyst=%d known_iocs=%d heuristic=%d\n",
		s.Missed.RedTeam, s.Missed.Analyst, s.Missed.KnownIOCs, s.Missed.Heuristic)
	fmt.Printf("Confidence:            %s", s.Missed.Confidence)
	if s.Missed.Estimated {
		fmt.Printf(" (estimated)")
	}
	if !s.Missed.GroundTruth {
		fmt.Printf(" [no ground truth]")
	}
	fmt.Println()
}

func printRecent(detections []schema.RecentDetection) {
	if len(detections) == 0 {
		return
	}

	fmt.Println()
	fmt.Println("Recent detections")
	fmt.Println("----------------------------------------")
	for _, d := range detections {
		fmt.Printf("%s  %-8s  %-24s  %.2f  %-15s  %s\n",
			d.DetectedAt.Format("2006-01-02 15:04:05"),
			d.Severity,
			d.ThreatType,
			d.Score,
			d.Status,
			truncate(d.Message, 60))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
