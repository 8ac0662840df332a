package minio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

type object struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

type fakeStore struct {
	objects []object
	err     error
}

func (f *fakeStore) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.objects = append(f.objects, object{bucket: bucket, key: key, contentType: opts.ContentType, body: body})
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestArchiver_Archive(t *testing.T) {
	store := &fakeStore{}
	a := NewArchiver(store, "genflow", zap.NewNop())

	err := a.Archive(context.Background(), domain.Event{
		ProcessID: "proc-1",
		Type:      domain.EventProcessCompleted,
		Timestamp: time.Unix(100, 0).UTC(),
		Payload:   map[string]any{"data": map[string]any{"score": 90}},
		Snapshot:  &domain.StatusView{ID: "proc-1", Status: domain.ProcessStatusCompleted, Progress: 100},
	})
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	if len(store.objects) != 1 {
		t.Fatalf("uploaded %d objects", len(store.objects))
	}
	obj := store.objects[0]
	if obj.bucket != "genflow" || obj.key != "processes/proc-1.json" || obj.contentType != "application/json" {
		t.Errorf("object = %s/%s (%s)", obj.bucket, obj.key, obj.contentType)
	}

	var rec Record
	if err := json.Unmarshal(obj.body, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Outcome != domain.EventProcessCompleted || rec.Status == nil || rec.Status.Progress != 100 {
		t.Errorf("record = %+v", rec)
	}
}

func TestArchiver_IgnoresNonTerminalEvents(t *testing.T) {
	store := &fakeStore{}
	a := NewArchiver(store, "genflow", zap.NewNop())

	for _, typ := range []domain.EventType{domain.EventProcessStarted, domain.EventStepStarted, domain.EventStepFailed} {
		if err := a.Archive(context.Background(), domain.Event{ProcessID: "p", Type: typ}); err != nil {
			t.Fatalf("Archive(%s) failed: %v", typ, err)
		}
	}
	if len(store.objects) != 0 {
		t.Errorf("uploaded %d objects, want 0", len(store.objects))
	}
}

func TestArchiver_PutError(t *testing.T) {
	a := NewArchiver(&fakeStore{err: errors.New("access denied")}, "genflow", zap.NewNop())

	err := a.Archive(context.Background(), domain.Event{ProcessID: "p", Type: domain.EventProcessFailed})
	if err == nil {
		t.Fatal("expected error")
	}
}
