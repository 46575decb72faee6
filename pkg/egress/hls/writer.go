// Package hls adapts the teacher transport's MPEG-TS/M3U8 primitives
// (pkg/streaming/hls) into the pipeline.Egress contract: atomic
// write-temp-rename segment files named by index (segment_<index>.ts) with
// their SHA-256 digest reported in each descriptor, fixed
// retention with eviction reporting, and master-playlist rewrite on
// variant-set change.
package hls

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/pipeline"
	teacherhls "github.com/bitriver/livepipe/pkg/streaming/hls"
	"github.com/bitriver/livepipe/pkg/types"
)

// DefaultRetention is how many segments a media playlist keeps before the
// oldest is evicted and its file removed.
const DefaultRetention = 6

var (
	_ pipeline.Egress        = (*Writer)(nil)
	_ pipeline.VariantWriter = (*FileVariantWriter)(nil)
)

// Writer is the filesystem-backed Egress: one instance serves every
// variant of every concurrently running stream.
type Writer struct {
	outputDir string
	retention int
	log       logger.Logger

	mu       sync.Mutex
	masters  map[string]*teacherhls.MasterPlaylist
	variants map[string][]types.VariantDescriptor // streamID -> known variants, for master rewrite
}

// New constructs a Writer rooted at outputDir.
func New(outputDir string, retention int, log logger.Logger) *Writer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Writer{
		outputDir: outputDir,
		retention: retention,
		log:       log,
		masters:   map[string]*teacherhls.MasterPlaylist{},
		variants:  map[string][]types.VariantDescriptor{},
	}
}

// OpenVariant implements pipeline.Egress.
func (w *Writer) OpenVariant(streamID string, v types.VariantStream, segmentLength time.Duration) (pipeline.VariantWriter, error) {
	dir := filepath.Join(w.outputDir, streamID, v.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("hls: create variant dir: %w", err)
	}

	fw := &FileVariantWriter{
		streamID:  streamID,
		variantID: v.ID,
		dir:       dir,
		playlist:  teacherhls.NewMediaPlaylist(int(segmentLength.Seconds()+0.5), teacherhls.PlaylistTypeLive),
		retention: w.retention,
		log:       w.log,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.trackVariant(streamID, v)
	if err := w.rewriteMaster(streamID); err != nil {
		w.log.Warn("master playlist rewrite failed", logger.Err(err))
	}
	return fw, nil
}

func (w *Writer) trackVariant(streamID string, v types.VariantStream) {
	mimeType := "video/mp2t"
	desc := types.VariantDescriptor{
		ID:       v.ID,
		MimeType: mimeType,
		Bitrate:  v.Bitrate,
		Width:    v.Width,
		Height:   v.Height,
	}
	existing := w.variants[streamID]
	for _, e := range existing {
		if e.ID == v.ID {
			return
		}
	}
	w.variants[streamID] = append(existing, desc)
}

// rewriteMaster regenerates and atomically writes the master playlist for
// streamID from the currently tracked variant set. Caller holds w.mu.
func (w *Writer) rewriteMaster(streamID string) error {
	master := teacherhls.NewMasterPlaylist()
	for _, v := range w.variants[streamID] {
		resolution := ""
		if v.Width > 0 && v.Height > 0 {
			resolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
		}
		master.AddVariant(&teacherhls.Variant{
			Name:       v.ID,
			Bandwidth:  v.Bitrate,
			Resolution: resolution,
			URI:        fmt.Sprintf("%s/live.m3u8", v.ID),
		})
	}
	master.SortVariantsByBandwidth()
	w.masters[streamID] = master

	path := filepath.Join(w.outputDir, streamID, "live.m3u8")
	return atomicWriteFile(path, []byte(master.Render()))
}

// RemoveStream deletes a stream's on-disk directory once it has ended and
// its segments have been reported and mirrored.
func (w *Writer) RemoveStream(streamID string) error {
	w.mu.Lock()
	delete(w.masters, streamID)
	delete(w.variants, streamID)
	w.mu.Unlock()
	return os.RemoveAll(filepath.Join(w.outputDir, streamID))
}

// FileVariantWriter implements pipeline.VariantWriter for one variant of
// one stream.
type FileVariantWriter struct {
	streamID  string
	variantID string
	dir       string
	retention int
	log       logger.Logger

	mu          sync.Mutex
	playlist    *teacherhls.MediaPlaylist
	descriptors []types.SegmentDescriptor
	index       int64
}

// WriteSegment wraps data into a single-track MPEG-TS segment, writes it
// atomically, appends it to the rolling media playlist, and evicts the
// oldest segment once retention is exceeded.
func (fw *FileVariantWriter) WriteSegment(data []byte, duration time.Duration) (types.SegmentDescriptor, []types.SegmentDescriptor, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	seg, err := teacherhls.CreateSegment(uint64(fw.index), duration.Seconds(), data, nil)
	if err != nil {
		return types.SegmentDescriptor{}, nil, fmt.Errorf("hls: create segment: %w", err)
	}

	sum := sha256.Sum256(seg.Data)
	path := filepath.Join(fw.dir, seg.Filename)
	if err := atomicWriteFile(path, seg.Data); err != nil {
		return types.SegmentDescriptor{}, nil, fmt.Errorf("hls: write segment: %w", err)
	}

	fw.playlist.AddSegment(seg)
	desc := types.SegmentDescriptor{
		VariantID: fw.variantID,
		Index:     fw.index,
		Duration:  duration.Seconds(),
		Path:      path,
		SHA256:    sum,
	}
	fw.descriptors = append(fw.descriptors, desc)
	fw.index++

	var evicted []types.SegmentDescriptor
	if len(fw.descriptors) > fw.retention {
		n := len(fw.descriptors) - fw.retention
		evicted = append(evicted, fw.descriptors[:n]...)
		for _, e := range evicted {
			if rmErr := os.Remove(e.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				fw.log.Warn("failed to remove evicted segment", logger.NewField("path", e.Path), logger.Err(rmErr))
			}
		}
		fw.descriptors = fw.descriptors[n:]
		fw.playlist.RemoveOldSegments(fw.retention)
	}

	if err := atomicWriteFile(filepath.Join(fw.dir, "live.m3u8"), []byte(fw.playlist.Render())); err != nil {
		fw.log.Warn("failed to write media playlist", logger.Err(err))
	}

	return desc, evicted, nil
}

// Close marks the playlist ended and returns no further descriptors; the
// on-disk segments and playlist are left in place for the DVR window.
func (fw *FileVariantWriter) Close() ([]types.SegmentDescriptor, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.playlist.SetEndList()
	if err := atomicWriteFile(filepath.Join(fw.dir, "live.m3u8"), []byte(fw.playlist.Render())); err != nil {
		return nil, err
	}
	return nil, nil
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
