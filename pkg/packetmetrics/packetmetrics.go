// Package packetmetrics implements the rolling bitrate/packet-rate
// aggregator attached to each ingress connection and output variant.
package packetmetrics

import (
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
)

// DefaultReportInterval is the default rolling-window reporting interval.
const DefaultReportInterval = 2 * time.Second

// Report is pushed to the optional reporting channel when the interval
// elapses.
type Report struct {
	Name    string
	Bitrate float64 // bits per second
}

// Snapshot is a non-destructive read of the current window's counters.
type Snapshot struct {
	Bitrate    float64
	PacketRate float64
}

// Counter is a rolling byte/packet counter over a configurable interval.
// update(bytes) is cheap and lock-protected; reporting never blocks the
// caller on a full channel — sends are best-effort.
type Counter struct {
	mu sync.Mutex

	name     string
	interval time.Duration
	log      logger.Logger
	reportCh chan<- Report

	windowStart  time.Time
	bytesInWin   int64
	packetsInWin int64

	lastBitrate    float64
	lastPacketRate float64
}

// New constructs a Counter with the default 2s reporting interval.
func New(name string, log logger.Logger, reportCh chan<- Report) *Counter {
	return NewWithInterval(name, DefaultReportInterval, log, reportCh)
}

// NewWithInterval constructs a Counter with an explicit reporting interval.
func NewWithInterval(name string, interval time.Duration, log logger.Logger, reportCh chan<- Report) *Counter {
	return &Counter{
		name:        name,
		interval:    interval,
		log:         log,
		reportCh:    reportCh,
		windowStart: time.Now(),
	}
}

// Update increments byte and packet counters by one packet of the given
// size. If the reporting interval has elapsed, it computes bitrate and
// packet rate, logs them at debug level, pushes a Report on the optional
// channel, and resets the window.
func (c *Counter) Update(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bytesInWin += int64(bytes)
	c.packetsInWin++

	elapsed := time.Since(c.windowStart)
	if elapsed < c.interval {
		return
	}

	secs := elapsed.Seconds()
	bitrate := 8 * float64(c.bytesInWin) / secs
	packetRate := float64(c.packetsInWin) / secs

	c.lastBitrate = bitrate
	c.lastPacketRate = packetRate

	c.log.Debug("packet metrics window",
		logger.NewField("name", c.name),
		logger.NewField("bitrate_bps", bitrate),
		logger.NewField("packet_rate", packetRate),
	)

	if c.reportCh != nil {
		select {
		case c.reportCh <- Report{Name: c.name, Bitrate: bitrate}:
		default:
			c.log.Debug("packet metrics report dropped, channel full", logger.NewField("name", c.name))
		}
	}

	c.bytesInWin = 0
	c.packetsInWin = 0
	c.windowStart = time.Now()
}

// Snapshot returns the most recently computed bitrate/packet-rate without
// resetting counters.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Bitrate: c.lastBitrate, PacketRate: c.lastPacketRate}
}
