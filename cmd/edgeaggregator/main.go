// Command edgeaggregator runs the Edge Aggregator: a stateless-between-
// restarts HTTP front end that reassembles HLS playlists for viewers by
// watching the relay firehose, without ever holding a database connection
// or touching segment bytes directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bitriver/livepipe/pkg/edge"
	"github.com/bitriver/livepipe/pkg/logger"
)

func main() {
	var relayFlag string
	listen := flag.String("listen", "0.0.0.0:8080", "HTTP listen address")
	flag.StringVar(&relayFlag, "relay", "wss://relay.damus.io,wss://relay.primal.net,wss://nos.lol", "comma-separated relay websocket URLs")
	flag.Parse()

	log := logger.NewDefaultLogger(logger.InfoLevel, "text")

	var relays []string
	for _, r := range strings.Split(relayFlag, ",") {
		if r = strings.TrimSpace(r); r != "" {
			relays = append(relays, r)
		}
	}
	if len(relays) == 0 {
		fmt.Fprintln(os.Stderr, "edgeaggregator: at least one --relay is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg := edge.NewAggregator(relays, log)
	go agg.Run(ctx)

	handler := edge.NewHandler(agg)
	srv := &http.Server{Addr: *listen, Handler: handler.Mux()}

	go func() {
		log.Info("edgeaggregator: listening", logger.String("addr", *listen))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("edgeaggregator: server error", logger.Err(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("edgeaggregator: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}
