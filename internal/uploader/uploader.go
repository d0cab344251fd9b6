// Package uploader implements the Uploader (component D): a background
// worker pool that uploads completed segments to a remote object store
// with bounded exponential-backoff retry, and a synchronous read path used
// by the serving surface.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/segmentpipe/segmentpipe/internal/config"
	"github.com/segmentpipe/segmentpipe/internal/storage"
)

// queueDepth bounds the upload work queue (§5: "Upload workers ... receive
// finalized paths over a bounded or unbounded FIFO queue from Ingest").
// Ingest blocks on enqueue once the queue is full, which is an acceptable
// form of backpressure since uploads are expected to keep pace with one
// roll per interval.
const queueDepth = 64

// workerCount is the number of concurrent upload workers.
const workerCount = 4

// objectStore is the minimal PUT/GET contract the Uploader depends on.
// The production implementation wraps an s3.Client; tests substitute a
// fake to exercise the retry policy deterministically (testable property
// 7) without a real object store.
type objectStore interface {
	PutObject(ctx context.Context, key string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// job is a single queued upload: the finalized segment's basename, used
// both as its sandbox-relative read path and as its object-store key.
type job struct {
	name string
}

// Uploader uploads finalized segments asynchronously and serves reads
// synchronously (§4.D). Reads bypass the queue entirely.
type Uploader struct {
	store   objectStore
	sandbox *storage.Sandbox
	prefix  string
	logger  *slog.Logger

	retryAttempts     int
	retryDelay        time.Duration
	retryMaxDelay     time.Duration
	backoffMultiplier float64

	queue chan job
	wg    sync.WaitGroup

	mu      sync.Mutex
	dropped []string
}

// New builds an Uploader backed by a real S3 client, reading the bucket
// name and static credentials from cfg (which itself sourced them from
// AWS_BUCKET/AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY rather than a config
// file, see internal/config). sandbox roots the local read that loads each
// segment before its upload attempts at the pipeline's output directory,
// the same sandbox the Roller writes segments into.
func New(ctx context.Context, cfg config.UploadConfig, prefix string, sandbox *storage.Sandbox, logger *slog.Logger) (*Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	store := &s3Store{client: client, bucket: cfg.Bucket}

	return newWithStore(store, sandbox, prefix, cfg.RetryAttempts, cfg.RetryDelay, cfg.RetryMaxDelay, cfg.BackoffMultiplier, logger), nil
}

// memStore is an in-process objectStore backed by a map, used by
// ForTest and by package tests that don't need real retry-failure
// injection.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) PutObject(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	m.objects[key] = cp
	return nil
}

func (m *memStore) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("not found: %s", key)
	}
	return data, nil
}

// ForTest builds an Uploader backed by an in-memory object store that
// never fails, for use by other packages' integration tests (e.g. the
// ingest pipeline's) that need a working Uploader but not real S3 or
// retry-failure injection. The worker pool is started immediately.
// sandbox must root the same directory the caller's Roller writes
// segments into, since the Uploader reads each segment's bytes from it
// before upload.
func ForTest(sandbox *storage.Sandbox) *Uploader {
	u := newWithStore(newMemStore(), sandbox, "/", 10, time.Millisecond, 10*time.Millisecond, 2.0, slog.Default())
	u.Start(context.Background())
	return u
}

func newWithStore(store objectStore, sandbox *storage.Sandbox, prefix string, retryAttempts int, retryDelay, retryMaxDelay time.Duration, backoffMultiplier float64, logger *slog.Logger) *Uploader {
	return &Uploader{
		store:             store,
		sandbox:           sandbox,
		prefix:            prefix,
		logger:            logger,
		retryAttempts:     retryAttempts,
		retryDelay:        retryDelay,
		retryMaxDelay:     retryMaxDelay,
		backoffMultiplier: backoffMultiplier,
		queue:             make(chan job, queueDepth),
	}
}

// Start launches the worker pool. Workers run until Stop closes the queue
// and the jobs still in it have been processed; once ctx is canceled, a
// failed upload is not retried and its segment is recorded as dropped.
func (u *Uploader) Start(ctx context.Context) {
	for i := 0; i < workerCount; i++ {
		u.wg.Add(1)
		go u.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight uploads to finish.
func (u *Uploader) Stop() {
	close(u.queue)
	u.wg.Wait()
}

// Enqueue schedules the local file at path for upload under its basename.
// Ordering is not required to be preserved: "the only ordering guarantee
// is that an upload is not dispatched before its segment's trailer has
// been written" (§4.D), which the caller (the ingest pipeline) already
// ensures by enqueuing only after Roller.End/Roll returns.
func (u *Uploader) Enqueue(ctx context.Context, path string) error {
	select {
	case u.queue <- job{name: filepath.Base(path)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *Uploader) worker(ctx context.Context) {
	defer u.wg.Done()
	for j := range u.queue {
		if err := u.uploadWithRetry(ctx, j); err != nil {
			u.logger.Error("dropping segment after exhausting upload retries",
				slog.String("name", j.name),
				slog.Int("attempts", u.retryAttempts),
				slog.String("error", err.Error()),
			)
			u.mu.Lock()
			u.dropped = append(u.dropped, j.name)
			u.mu.Unlock()
		}
	}
}

// uploadWithRetry reads the segment into memory through the sandbox and
// PUTs it, retrying with exponential backoff starting at retryDelay and
// capped at retryMaxDelay (§9 open question 4). It makes at most
// retryAttempts total attempts; exhausting all of them without success
// means the segment is dropped — it remains on local disk and in the
// index (testable property 7).
func (u *Uploader) uploadWithRetry(ctx context.Context, j job) error {
	data, err := u.sandbox.ReadFile(j.name)
	if err != nil {
		return fmt.Errorf("reading segment %s: %w", j.name, err)
	}

	key := u.objectKey(j.name)
	delay := u.retryDelay

	var lastErr error
	for attempt := 1; attempt <= u.retryAttempts; attempt++ {
		if attempt > 1 {
			u.logger.Debug("retrying upload",
				slog.String("key", key),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * u.backoffMultiplier)
			if delay > u.retryMaxDelay {
				delay = u.retryMaxDelay
			}
		}

		if err := u.store.PutObject(ctx, key, data); err != nil {
			lastErr = err
			u.logger.Warn("upload attempt failed",
				slog.String("key", key),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		u.logger.Info("segment uploaded", slog.String("key", key), slog.Int("attempt", attempt))
		return nil
	}

	return fmt.Errorf("upload exhausted %d attempts: %w", u.retryAttempts, lastErr)
}

// ReadChunk fetches a segment's bytes, bypassing the upload queue
// entirely — a synchronous RPC against the object store (§4.D). Callers
// that want a local-disk fallback should catch the error and try the
// sandboxed local path themselves (§9 resolution 5).
func (u *Uploader) ReadChunk(ctx context.Context, name string) ([]byte, error) {
	data, err := u.store.GetObject(ctx, u.objectKey(name))
	if err != nil {
		return nil, fmt.Errorf("reading chunk %s: %w", name, err)
	}
	return data, nil
}

// Dropped returns the basenames of segments that exhausted all upload
// retries, for diagnostics/tests.
func (u *Uploader) Dropped() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.dropped))
	copy(out, u.dropped)
	return out
}

func (u *Uploader) objectKey(name string) string {
	prefix := u.prefix
	if prefix == "" {
		prefix = "/"
	}
	return fmt.Sprintf("%s/%s", trimSlash(prefix), name)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// s3Store adapts an *s3.Client to the objectStore interface.
type s3Store struct {
	client *s3.Client
	bucket string
}

func (s *s3Store) PutObject(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}

func (s *s3Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
