// Package minio archives finished processes to an S3-compatible bucket
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aescanero/genflow/pkg/adapters/events"
	"github.com/aescanero/genflow/pkg/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Config holds the object store settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// ObjectPutter is the subset of *minio.Client the archiver needs
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewClient creates a minio client and makes sure the bucket exists
func NewClient(ctx context.Context, cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return client, nil
}

// Record is the archived document of a finished process
type Record struct {
	ProcessID  string             `json:"process_id"`
	Outcome    domain.EventType   `json:"outcome"`
	ArchivedAt time.Time          `json:"archived_at"`
	Final      map[string]any     `json:"final,omitempty"`
	Status     *domain.StatusView `json:"status,omitempty"`
}

// Archiver uploads a record for every terminal event
type Archiver struct {
	store  ObjectPutter
	bucket string
	logger *zap.Logger
}

// NewArchiver creates a new Archiver
func NewArchiver(store ObjectPutter, bucket string, logger *zap.Logger) *Archiver {
	return &Archiver{
		store:  store,
		bucket: bucket,
		logger: logger,
	}
}

// Sink wraps the archiver in a non-blocking sink
func (a *Archiver) Sink(queueSize int, drops events.DropRecorder) *events.AsyncSink {
	return events.NewAsyncSink("archive", queueSize, a.Archive, a.logger, drops)
}

// ObjectKey returns the object key of a process record
func ObjectKey(processID string) string {
	return "processes/" + processID + ".json"
}

// Archive uploads the record of a finished process. Other events are ignored.
func (a *Archiver) Archive(ctx context.Context, event domain.Event) error {
	if !event.Type.IsTerminal() {
		return nil
	}

	body, err := json.Marshal(Record{
		ProcessID:  event.ProcessID,
		Outcome:    event.Type,
		ArchivedAt: event.Timestamp,
		Final:      event.Payload,
		Status:     event.Snapshot,
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	key := ObjectKey(event.ProcessID)
	if _, err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("put object %s/%s: %w", a.bucket, key, err)
	}

	a.logger.Info("archived process",
		zap.String("process_id", event.ProcessID),
		zap.String("bucket", a.bucket),
		zap.String("key", key))

	return nil
}
