package packetmetrics

import (
	"testing"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
)

func TestUpdateReportsAfterInterval(t *testing.T) {
	ch := make(chan Report, 1)
	c := NewWithInterval("v0", 10*time.Millisecond, logger.NewDefaultLogger(logger.DebugLevel, "text"), ch)

	c.Update(100)
	time.Sleep(15 * time.Millisecond)
	c.Update(100)

	select {
	case r := <-ch:
		if r.Name != "v0" {
			t.Fatalf("expected name v0, got %s", r.Name)
		}
		if r.Bitrate <= 0 {
			t.Fatalf("expected positive bitrate, got %f", r.Bitrate)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a report to be pushed after the interval elapsed")
	}
}

func TestSnapshotNonDestructive(t *testing.T) {
	c := NewWithInterval("v0", 5*time.Millisecond, logger.NewDefaultLogger(logger.DebugLevel, "text"), nil)
	c.Update(1000)
	time.Sleep(10 * time.Millisecond)
	c.Update(1000)

	s1 := c.Snapshot()
	s2 := c.Snapshot()
	if s1 != s2 {
		t.Fatalf("expected snapshot to be stable across reads without update")
	}
}
