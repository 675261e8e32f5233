// Command gpubroker starts a broker and drives it with concurrent clients.
//
// Each client requests its own adapter and device, creates and destroys a
// batch of buffers, and the final registry snapshot is printed before
// shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gogpu/gputypes"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/broker"
	"github.com/gogpu/broker/backend"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file")
		backendArg = flag.String("backend", "", "backend name (overrides config)")
		clients    = flag.Int("clients", 4, "concurrent clients")
		buffers    = flag.Int("buffers", 8, "buffers per client")
		size       = flag.Uint64("size", 256, "buffer size in bytes")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	cfg := broker.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = broker.LoadConfig(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	if *backendArg != "" {
		cfg.Backend = *backendArg
	}
	if cfg.Backend == "" {
		cfg.Backend = backend.BackendNoop
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	level, err := cfg.Level()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger, *clients, *buffers, *size); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg broker.Config, logger *slog.Logger, clients, buffers int, size uint64) error {
	b, err := broker.New(cfg, broker.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for c := range clients {
		g.Go(func() error {
			return client(gctx, b, c, buffers, size)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	snap, err := b.Inspect(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("backend:   %s\n", snap.Backend)
	fmt.Printf("state:     %s\n", snap.State)
	fmt.Printf("processed: %d requests\n", snap.Processed)
	fmt.Printf("adapters:  %d\n", len(snap.Adapters))
	fmt.Printf("devices:   %d\n", len(snap.Devices))
	fmt.Printf("buffers:   %d\n", len(snap.Buffers))
	if snap.Memory != nil {
		fmt.Printf("memory:    %s\n", snap.Memory)
	}
	return nil
}

// client opens a device, creates buffers and destroys every other one, so
// that shutdown has live buffers to tear down.
func client(ctx context.Context, b *broker.Broker, id, buffers int, size uint64) error {
	ad, err := b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{
		PowerPreference: gputypes.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("client %d: %w", id, err)
	}
	desc := gputypes.DefaultDeviceDescriptor()
	desc.Label = fmt.Sprintf("client-%d", id)
	dev, err := b.RequestDevice(ctx, ad.Adapter, desc)
	if err != nil {
		return fmt.Errorf("client %d: %w", id, err)
	}

	for i := range buffers {
		buf, err := b.CreateBuffer(ctx, dev.Device, gputypes.BufferDescriptor{
			Label: fmt.Sprintf("client-%d/buf-%d", id, i),
			Size:  size,
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("client %d: %w", id, err)
		}
		if i%2 == 0 {
			if err := b.DestroyBuffer(buf.Buffer); err != nil {
				return fmt.Errorf("client %d: %w", id, err)
			}
		}
	}
	return nil
}
