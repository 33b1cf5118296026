// Package download reconstructs a file from its remote shards: shards are fetched
// with bounded prefetch, handed to the decrypting reader strictly in index order,
// and the plaintext is copied to a sink.
package download

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/cloud/transport"
	"github.com/cryptdrive/cdrive/internal/constants"
	encryption "github.com/cryptdrive/cdrive/internal/crypto"
	"github.com/cryptdrive/cdrive/internal/logging"
	"github.com/cryptdrive/cdrive/internal/util/buffers"
)

// Params describes one download.
type Params struct {
	BucketID string
	FileID   string
	Key      encryption.TransferKey
	Size     int64 // size of the whole file
	Sink     io.Writer

	// StartOffset and RangeLength select a plaintext range; zero values mean the whole file
	StartOffset int64
	RangeLength int64

	// Concurrency is the number of shards fetched ahead of the decrypting reader
	Concurrency int
	Progress    cloud.ProgressCallback
}

// Downloader downloads and decrypts files.
type Downloader struct {
	network   cloud.NetworkAPI
	transport transport.DownloadTransport
	logger    *logging.Logger
}

// NewDownloader creates a Downloader.
func NewDownloader(network cloud.NetworkAPI, tr transport.DownloadTransport, logger *logging.Logger) *Downloader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Downloader{network: network, transport: tr, logger: logger.Component("download")}
}

// segment is the part of one shard that overlaps the requested range.
type segment struct {
	shard  cloud.ShardDescriptor
	offset int64 // offset inside the shard
	length int64
}

// whole reports whether the segment covers its entire shard.
func (s segment) whole() bool {
	return s.offset == 0 && s.length == s.shard.Size
}

// Download runs the download. The sink is closed if it implements io.Closer,
// and 1.0 progress is emitted only after it closed cleanly.
func (d *Downloader) Download(ctx context.Context, p Params) (err error) {
	defer func() {
		if closer, ok := p.Sink.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close download sink: %w", cerr)
			}
		}
		if err == nil && p.Progress != nil {
			p.Progress(1.0)
		}
	}()

	if err := d.download(ctx, p); err != nil {
		return storage.AbortedOr(ctx, "download", err)
	}
	return nil
}

func (d *Downloader) download(ctx context.Context, p Params) error {
	if err := p.Key.Validate(); err != nil {
		return err
	}
	if p.Sink == nil {
		return fmt.Errorf("download sink is required")
	}
	expected, err := rangeLength(p.Size, p.StartOffset, p.RangeLength)
	if err != nil {
		return err
	}

	shards, err := d.network.RequestDownloadLinks(ctx, p.BucketID, p.FileID)
	if err != nil {
		return fmt.Errorf("failed to get download links: %w", err)
	}
	segments, err := planSegments(shards, p.Size, p.StartOffset, expected)
	if err != nil {
		return err
	}
	d.logger.Debug().
		Str("file_id", p.FileID).
		Int("shards", len(shards)).
		Int("segments", len(segments)).
		Int64("offset", p.StartOffset).
		Int64("length", expected).
		Msg("download planned")

	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = constants.DefaultShardConcurrency
	}
	if concurrency > constants.MaxShardConcurrency {
		concurrency = constants.MaxShardConcurrency
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	failure := &firstFailure{cancel: cancel}
	readers, wait := d.fetchInOrder(fetchCtx, segments, concurrency, failure)
	defer func() {
		cancel()
		for _, r := range readers {
			r.CloseWithError(context.Canceled)
		}
		wait()
	}()

	streams := make([]io.Reader, len(readers))
	for i, r := range readers {
		streams[i] = r
	}
	plain, err := encryption.NewCTRDecryptReader(streams, p.Key.Key, p.Key.IV, p.StartOffset)
	if err != nil {
		return err
	}

	sink := &progressWriter{w: p.Sink, total: expected, callback: p.Progress}
	buf := buffers.GetCopyBuffer()
	defer buffers.PutCopyBuffer(buf)

	// Read one byte past the expected length to detect oversized responses
	written, err := io.CopyBuffer(sink, io.LimitReader(plain, expected+1), *buf)
	if err != nil {
		// Sibling pipes surface the cancellation; report the shard that caused it
		if ferr := failure.get(); ferr != nil {
			return ferr
		}
		return err
	}
	if written != expected {
		return storage.NewSizeMismatch("download "+p.FileID, expected, written)
	}
	return nil
}

// fetchInOrder starts one fetch per segment, at most concurrency at a time, each
// writing into its own pipe. Slots are taken in segment order so the segment the
// reader is waiting on always holds one. The first failed fetch is recorded in
// failure, which cancels every other fetch.
func (d *Downloader) fetchInOrder(ctx context.Context, segments []segment, concurrency int, failure *firstFailure) ([]*io.PipeReader, func()) {
	readers := make([]*io.PipeReader, len(segments))
	writers := make([]*io.PipeWriter, len(segments))
	for i := range segments {
		readers[i], writers[i] = io.Pipe()
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, seg := range segments {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				for _, w := range writers[i:] {
					w.CloseWithError(ctx.Err())
				}
				return
			}
			wg.Add(1)
			go func(seg segment, w *io.PipeWriter) {
				defer wg.Done()
				defer func() { <-sem }()
				err := d.fetchSegment(ctx, seg, w)
				if err != nil {
					failure.set(err)
				}
				w.CloseWithError(err)
			}(seg, writers[i])
		}
	}()

	return readers, wg.Wait
}

// firstFailure keeps the first shard error and cancels the remaining fetches once.
type firstFailure struct {
	once   sync.Once
	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
}

func (f *firstFailure) set(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		f.cancel()
	})
}

func (f *firstFailure) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// fetchSegment copies one segment into w and checks its length and, for whole
// shards, its hash.
func (d *Downloader) fetchSegment(ctx context.Context, seg segment, w io.Writer) error {
	body, err := d.transport.Get(ctx, transport.GetRequest{
		URL:    seg.shard.URL,
		Offset: seg.offset,
		Length: seg.length,
	})
	if err != nil {
		return fmt.Errorf("shard %d: %w", seg.shard.Index, err)
	}
	defer body.Close()

	var hasher *encryption.ContentHasher
	dst := w
	if seg.whole() && seg.shard.Hash != "" {
		hasher = encryption.NewContentHasher()
		dst = io.MultiWriter(w, hasher)
	}

	n, err := io.Copy(dst, io.LimitReader(body, seg.length+1))
	if err != nil {
		return fmt.Errorf("shard %d: %w", seg.shard.Index, err)
	}
	if n != seg.length {
		return storage.NewSizeMismatch(fmt.Sprintf("shard %d", seg.shard.Index), seg.length, n)
	}
	if hasher != nil && !strings.EqualFold(hasher.HexSum(), seg.shard.Hash) {
		return &storage.IntegrityError{
			What:     fmt.Sprintf("shard %d hash", seg.shard.Index),
			Expected: seg.shard.Hash,
			Actual:   hasher.HexSum(),
		}
	}
	return nil
}

// rangeLength returns the number of plaintext bytes a download produces.
func rangeLength(size, offset, length int64) (int64, error) {
	if size < 0 {
		return 0, fmt.Errorf("invalid file size %d", size)
	}
	if offset < 0 || length < 0 {
		return 0, fmt.Errorf("invalid range offset=%d length=%d", offset, length)
	}
	if offset > size || (offset == size && size > 0) {
		return 0, fmt.Errorf("offset %d is beyond the end of the file (%d bytes)", offset, size)
	}
	remaining := size - offset
	if length == 0 || length > remaining {
		return remaining, nil
	}
	return length, nil
}

// planSegments sorts shards by index and maps [offset, offset+length) onto them.
// Shards entirely outside the range are skipped.
func planSegments(shards []cloud.ShardDescriptor, size, offset, length int64) ([]segment, error) {
	if len(shards) == 0 {
		return nil, &storage.IntegrityError{What: "shard list", Expected: "at least 1 shard", Actual: "0 shards"}
	}
	sorted := make([]cloud.ShardDescriptor, len(shards))
	copy(sorted, shards)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var total int64
	for _, s := range sorted {
		if s.Size < 0 {
			return nil, fmt.Errorf("shard %d has invalid size %d", s.Index, s.Size)
		}
		total += s.Size
	}
	if total != size {
		return nil, storage.NewSizeMismatch("shard sizes", size, total)
	}

	end := offset + length
	var segments []segment
	var start int64
	for _, s := range sorted {
		shardEnd := start + s.Size
		if shardEnd > offset && start < end {
			from := max(offset, start)
			to := min(end, shardEnd)
			segments = append(segments, segment{shard: s, offset: from - start, length: to - from})
		}
		start = shardEnd
	}
	return segments, nil
}

// progressWriter reports bytes written to the sink as scaled progress.
type progressWriter struct {
	w        io.Writer
	written  int64
	total    int64
	callback cloud.ProgressCallback
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written += int64(n)
	if pw.callback != nil && pw.total > 0 && n > 0 {
		pw.callback(cloud.ScaleProgress(float64(pw.written) / float64(pw.total)))
	}
	return n, err
}
