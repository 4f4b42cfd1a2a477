// Command ledstrip-sim serves one or more simulated LED strips for local
// testing of the bridge without hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ledstrip-bridge/internal/simulator"
)

func main() {
	addr := flag.String("addr", "127.0.0.1", "listen address")
	port := flag.Int("port", 8081, "first listen port")
	count := flag.Int("count", 1, "number of simulated strips, one port each")
	debug := flag.Bool("debug", false, "log every received command")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	var (
		servers []*http.Server
		wg      sync.WaitGroup
	)
	for i := 0; i < *count; i++ {
		dev := simulator.New(logger)
		dev.SetMAC(fmt.Sprintf("A4:CF:12:00:00:%02X", i+1))

		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", *addr, *port+i),
			Handler:           dev,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, srv)

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("simulated strip listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("listen", "addr", srv.Addr, "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		srv.Shutdown(ctx)
	}
	wg.Wait()
}
