// Copyright (c) Kinetic Labs
// SPDX-License-Identifier: Apache-2.0

// loadgen drives a producer at a fixed message rate against simulated
// topic metadata and drains the partition queues the way a transport
// would. It exists to exercise the produce path end to end and to
// measure admission, routing and timeout behavior under load.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/kineticmq/kinetic/config"
	"github.com/kineticmq/kinetic/metadata"
	"github.com/kineticmq/kinetic/otel"
	"github.com/kineticmq/kinetic/produce"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	topic := flag.String("topic", "loadgen", "Topic to produce to")
	partitions := flag.Int("partitions", 8, "Simulated partition count for the topic")
	msgRate := flag.Float64("rate", 10000, "Messages per second")
	payloadSize := flag.Int("payload-size", 512, "Payload size in bytes")
	keys := flag.Int("keys", 0, "Key cardinality; 0 produces keyless messages")
	duration := flag.Duration("duration", 30*time.Second, "How long to run")
	drainInterval := flag.Duration("drain-interval", 10*time.Millisecond, "Transport drain cadence")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	var otelShutdown func(context.Context) error
	if cfg.Otel.Enabled {
		shutdown, err := otel.InitProvider(cfg.Otel, cfg.Producer.ClientID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Otel.Endpoint)
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	var timedOut atomic.Int64
	opts := produce.Options{
		ClientID:                  cfg.Producer.ClientID,
		MaxMessageSize:            cfg.Producer.MaxMessageSize,
		QueueBufferingMaxMessages: cfg.Producer.QueueBufferingMaxMessages,
		MessageTimeout:            cfg.Producer.MessageTimeout,
		MetadataRefreshInterval:   cfg.Producer.MetadataRefreshInterval,
		SweepInterval:             cfg.Producer.SweepInterval,
		Partitioner:               partitionerFor(cfg.Producer.Partitioner),
		Compression:               produce.Compression(cfg.Producer.Compression),
		Logger:                    logger,
		OnDeliveryFailure: func(msg *produce.Message, reason error) {
			timedOut.Add(1)
		},
	}

	p, err := produce.New(opts)
	if err != nil {
		slog.Error("Failed to create producer", "error", err)
		os.Exit(1)
	}

	// Stand in for the metadata refresher: one topic, fixed partition count.
	p.Metadata().Update(*topic, int32(*partitions), time.Now())

	p.Start()
	slog.Info("Load generator started",
		"client_id", p.ID(),
		"topic", *topic,
		"partitions", *partitions,
		"rate", *msgRate,
		"payload_size", *payloadSize,
		"compression", cfg.Producer.Compression,
		"duration", *duration)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		wg       sync.WaitGroup
		produced atomic.Int64
		rejected atomic.Int64
		drained  atomic.Int64
	)

	// Drain loop: dequeues buffered messages per partition and completes
	// them, the way a transport would after transmission.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(*drainInterval)
		defer ticker.Stop()

		drain := func() {
			for idx := int32(0); idx < int32(*partitions); idx++ {
				for _, msg := range p.Dequeue(*topic, idx, 1024) {
					msg.Destroy()
					drained.Add(1)
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				drain()
				return
			case <-ticker.C:
				drain()
			}
		}
	}()

	payload := make([]byte, *payloadSize)
	rand.Read(payload)

	limiter := rate.NewLimiter(rate.Limit(*msgRate), int(*msgRate/10)+1)
	start := time.Now()

produceLoop:
	for seq := 0; ; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		var key []byte
		if *keys > 0 {
			key = []byte("key-" + strconv.Itoa(seq%*keys))
		}

		err := p.Produce(*topic, metadata.PartitionAny, produce.MsgFlagCopy, payload, key, nil)
		switch {
		case err == nil:
			produced.Add(1)
		case ctx.Err() != nil:
			break produceLoop
		default:
			rejected.Add(1)
		}
	}

	<-ctx.Done()
	wg.Wait()
	p.Close()

	elapsed := time.Since(start)
	slog.Info("Load generator finished",
		"elapsed", elapsed.Round(time.Millisecond),
		"produced", produced.Load(),
		"drained", drained.Load(),
		"rejected", rejected.Load(),
		"timed_out", timedOut.Load(),
		"throughput_msg_s", float64(produced.Load())/elapsed.Seconds())

	if otelShutdown != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}
}

func partitionerFor(name string) produce.Partitioner {
	switch name {
	case "hash":
		return produce.HashPartitioner{}
	case "roundrobin":
		return &produce.RoundRobinPartitioner{}
	default:
		return produce.RandomPartitioner{}
	}
}
