package eventarchive

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GCSClient abstracts the top-level *storage.Client so the inserter can be
// tested without Cloud Storage.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) io.WriteCloser
}

type gcsClientAdapter struct{ client *storage.Client }

// NewGCSClientAdapter makes a *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct{ handle *storage.BucketHandle }

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct{ handle *storage.ObjectHandle }

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	return a.handle.NewWriter(ctx)
}

// GCSConfig names the bucket and object prefix events are written under.
type GCSConfig struct {
	BucketName   string `yaml:"bucket_name"`
	ObjectPrefix string `yaml:"object_prefix"`
}

// LoadGCSConfigFromEnv overrides cfg with GCS_BUCKET_NAME and
// GCS_OBJECT_PREFIX and checks that a bucket is named.
func LoadGCSConfigFromEnv(cfg *GCSConfig) error {
	if v := os.Getenv("GCS_BUCKET_NAME"); v != "" {
		cfg.BucketName = v
	}
	if v := os.Getenv("GCS_OBJECT_PREFIX"); v != "" {
		cfg.ObjectPrefix = v
	}
	if cfg.BucketName == "" {
		return fmt.Errorf("GCS bucket name is not set")
	}
	return nil
}

// GCSInserter writes batches of EventRecords to Cloud Storage as gzipped JSON
// lines, one object per event day:
// <prefix>/<yyyy>/<mm>/<dd>/<uuid>.jsonl.gz.
type GCSInserter struct {
	client GCSClient
	config GCSConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewGCSInserter creates a GCSInserter.
func NewGCSInserter(client GCSClient, cfg GCSConfig, logger zerolog.Logger) (*GCSInserter, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSInserter{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "GCSInserter").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// InsertBatch groups items by event day and uploads each group in parallel.
func (g *GCSInserter) InsertBatch(ctx context.Context, items []*EventRecord) error {
	groups := make(map[string][]*EventRecord)
	for _, item := range items {
		if item == nil {
			continue
		}
		key := item.Timestamp.UTC().Format("2006/01/02")
		groups[key] = append(groups[key], item)
	}
	if len(groups) == 0 {
		return nil
	}

	errs := make(chan error, len(groups))
	var uploads sync.WaitGroup
	for key, group := range groups {
		uploads.Add(1)
		g.wg.Add(1)
		go func(key string, group []*EventRecord) {
			defer uploads.Done()
			defer g.wg.Done()
			if err := g.upload(ctx, key, group); err != nil {
				errs <- err
			}
		}(key, group)
	}
	uploads.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

func (g *GCSInserter) upload(ctx context.Context, key string, records []*EventRecord) error {
	objectName := path.Join(g.config.ObjectPrefix, key, uuid.NewString()+".jsonl.gz")
	writer := g.client.Bucket(g.config.BucketName).Object(objectName).NewWriter(ctx)
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, rec := range records {
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
		err = gz.Close()
	}()

	written, copyErr := io.Copy(writer, pr)
	if copyErr != nil {
		// Unblocks the encoder when the object writer fails first.
		_ = pr.CloseWithError(copyErr)
	}
	closeErr := writer.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream GCS object %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalize GCS object %s: %w", objectName, closeErr)
	}
	g.logger.Debug().
		Str("object_name", objectName).
		Int("record_count", len(records)).
		Int64("bytes_written", written).
		Msg("Uploaded event batch.")
	return nil
}

// Close waits for in-flight uploads.
func (g *GCSInserter) Close() error {
	g.wg.Wait()
	return nil
}
