// Command n94broadcast runs the ownership-less N94 broadcaster: it accepts
// a single operator's ingest connections, transcodes and packages them to
// local HLS, and publishes stream-announce/segment-metadata events plus
// mirrored blobs, all driven from CLI flags rather than a user database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/bitriver/livepipe/pkg/blossom"
	"github.com/bitriver/livepipe/pkg/config"
	"github.com/bitriver/livepipe/pkg/egress/hls"
	"github.com/bitriver/livepipe/pkg/ingest"
	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/metrics"
	"github.com/bitriver/livepipe/pkg/nostr"
	"github.com/bitriver/livepipe/pkg/overseer"
	"github.com/bitriver/livepipe/pkg/pipeline"
	"github.com/bitriver/livepipe/pkg/streammanager"
	"github.com/bitriver/livepipe/pkg/types"
)

type flags struct {
	nsec              string
	blossomMirrors    []string
	maxBlossomServers int
	segmentLength     float64
	relays            []string
	listen            []string
	dataDir           string
	capabilities      []string
	title             string
	summary           string
	image             string
	goal              string
	hashtags          []string
	n94Bridge         string
}

func main() {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "n94broadcast",
		Short: "Run the ownership-less N94 broadcaster overseer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	cmd.Flags().StringVar(&f.nsec, "nsec", "", "signer key (bech32 nsec or hex), required")
	cmd.Flags().StringArrayVar(&f.blossomMirrors, "blossom", nil, "Blossom mirror URL (repeatable)")
	cmd.Flags().IntVar(&f.maxBlossomServers, "max-blossom-servers", 3, "max concurrent mirror uploads")
	cmd.Flags().Float64Var(&f.segmentLength, "segment-length", 6.0, "segment length in seconds")
	cmd.Flags().StringArrayVar(&f.relays, "relay", nil, "relay websocket URL (repeatable)")
	cmd.Flags().StringArrayVar(&f.listen, "listen", nil, "ingress listen URL (repeatable)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "./out", "HLS egress output directory")
	cmd.Flags().StringArrayVar(&f.capabilities, "capability", nil, "endpoint capability (repeatable)")
	cmd.Flags().StringVar(&f.title, "title", "", "default stream title")
	cmd.Flags().StringVar(&f.summary, "summary", "", "default stream summary")
	cmd.Flags().StringVar(&f.image, "image", "", "default stream image URL")
	cmd.Flags().StringVar(&f.goal, "goal", "", "default stream goal")
	cmd.Flags().StringArrayVar(&f.hashtags, "hashtag", nil, "default stream hashtag (repeatable)")
	cmd.Flags().StringVar(&f.n94Bridge, "n94-bridge", "", "edge aggregator base URL for the NIP-53 bridge event")
	cmd.MarkFlagRequired("nsec")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(f *flags) error {
	log := logger.NewDefaultLogger(logger.InfoLevel, "text")

	privKey, err := nostr.ParsePrivateKey(f.nsec)
	if err != nil {
		return fmt.Errorf("n94broadcast: %w", err)
	}
	signer, err := nostr.NewSigner(privKey)
	if err != nil {
		return fmt.Errorf("n94broadcast: %w", err)
	}

	if len(f.relays) == 0 {
		f.relays = config.DefaultConfig().Nostr.Relays
	}

	mirrors := f.blossomMirrors
	if len(mirrors) == 0 {
		mirrors = discoverMirrors(f.relays, signer.PublicKey(), log)
	}

	caps, err := config.ParseCapabilities(f.capabilities)
	if err != nil {
		return fmt.Errorf("n94broadcast: %w", err)
	}
	if len(caps) == 0 {
		caps = []types.EndpointCapability{types.SourceCopyCapability()}
	}

	if len(f.listen) == 0 {
		f.listen = []string{"rtmp://0.0.0.0:1935"}
	}

	reg, err := metrics.InitGlobal()
	if err != nil {
		return fmt.Errorf("n94broadcast: %w", err)
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		log.Info("metrics endpoint listening", logger.String("addr", ":9090"))
		if err := http.ListenAndServe(":9090", mux); err != nil {
			log.Error("metrics server stopped", logger.Err(err))
		}
	}()

	publisher := nostr.NewPublisher(signer, f.relays, config.DefaultConfig().Nostr.RelayPublishTimeout, log)
	defer publisher.Close()

	blobPublisher := blossom.New(signer, mirrors, f.maxBlossomServers, 30*time.Second, log)
	egressWriter := hls.New(f.dataDir, hls.DefaultRetention, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ov *overseer.N94Broadcaster
	manager := streammanager.New(log, func(streamID string) {
		if ov == nil {
			return
		}
		if err := ov.OnEnd(ctx, streamID); err != nil {
			log.Warn("n94broadcast: failed to end stale stream", logger.String("stream_id", streamID), logger.Err(err))
		}
	})
	defer manager.Close()

	n94cfg := overseer.N94Config{
		Capabilities: caps,
		Defaults: types.StreamDefaults{
			Title:   f.title,
			Summary: f.summary,
			Image:   f.image,
			Goal:    f.goal,
			Tags:    f.hashtags,
		},
		BridgeURL:    f.n94Bridge,
		PublishNIP53: f.n94Bridge != "",
	}
	ov = overseer.NewN94Broadcaster(n94cfg, publisher, blobPublisher, manager, signer.PublicKey(), log)

	runnerCfg := pipeline.Config{
		SegmentLength: time.Duration(f.segmentLength * float64(time.Second)),
		RecordingDir:  filepath.Join(f.dataDir, "recordings"),
	}

	var listeners []ingest.Listener
	for _, l := range f.listen {
		listener, err := ingest.NewFromURL(l, log)
		if err != nil {
			return fmt.Errorf("n94broadcast: %w", err)
		}
		listeners = append(listeners, listener)
	}

	starter := func(ctx context.Context, sess *ingest.Session, streamID, userID string, ownerPubkey [32]byte, capabilities []types.EndpointCapability) {
		decision := overseer.StartDecision{StreamID: streamID, UserID: userID, OwnerPubkey: ownerPubkey, Capabilities: capabilities, Defaults: n94cfg.Defaults}
		runner := pipeline.New(sess, streamID, userID, ownerPubkey, decision, ov, egressWriter, reg, log, runnerCfg)
		manager.TrackStart(streamID, time.Now())
		go func() {
			if err := runner.Run(ctx); err != nil {
				log.Warn("n94broadcast: pipeline runner exited with error", logger.String("stream_id", streamID), logger.Err(err))
			}
			manager.Untrack(streamID)
		}()
	}

	for _, l := range listeners {
		l := l
		go func() {
			if err := l.Listen(ctx, ov, starter); err != nil {
				log.Error("n94broadcast: listener exited", logger.String("protocol", string(l.Protocol())), logger.Err(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	log.Info("n94broadcast started", logger.Int("listeners", len(listeners)))
	<-sigCh
	log.Info("n94broadcast: shutting down")
	cancel()
	for _, l := range listeners {
		_ = l.Close()
	}
	return nil
}

// discoverMirrors asks each relay in turn for the signer's own kind-10063
// mirror-list event and returns the servers from the first relay that
// yields a non-empty list; relays that fail or return none are skipped.
func discoverMirrors(relays []string, pubkey [32]byte, log logger.Logger) []string {
	for _, relayURL := range relays {
		servers, err := fetchMirrorList(relayURL, pubkey)
		if err != nil {
			log.Warn("n94broadcast: mirror-list discovery failed", logger.String("relay", relayURL), logger.Err(err))
			continue
		}
		if len(servers) > 0 {
			return servers
		}
	}
	log.Warn("n94broadcast: no blossom mirrors configured or discovered")
	return nil
}

func fetchMirrorList(relayURL string, pubkey [32]byte) ([]string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(relayURL, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	subID := "mirror-discovery"
	req := []interface{}{"REQ", subID, map[string]interface{}{
		"kinds":   []int{nostr.KindMirrorList},
		"authors": []string{fmt.Sprintf("%x", pubkey)},
		"limit":   1,
	}}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var raw []json.RawMessage
		if err := json.Unmarshal(msg, &raw); err != nil || len(raw) == 0 {
			continue
		}
		var verb string
		json.Unmarshal(raw[0], &verb)
		switch verb {
		case "EVENT":
			if len(raw) < 3 {
				continue
			}
			var ev struct {
				Tags [][]string `json:"tags"`
			}
			if err := json.Unmarshal(raw[2], &ev); err != nil {
				continue
			}
			var servers []string
			for _, tag := range ev.Tags {
				if len(tag) >= 2 && tag[0] == "server" {
					servers = append(servers, tag[1])
				}
			}
			return servers, nil
		case "EOSE":
			return nil, nil
		}
	}
}
