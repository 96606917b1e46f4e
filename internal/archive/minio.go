package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shaiso/tracepipe/internal/domain"
)

// Файлы, которые выгружаются после успешного run.
const (
	TraceFile    = "dynamic_trace.gz"
	LabelMapFile = "labelmap"
)

// ErrTraceMissing — run успешен, но трасса не найдена в рабочей директории.
var ErrTraceMissing = errors.New("trace file missing")

// Uploader — подмножество minio.Client, которое использует Archiver.
type Uploader interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver выгружает трассу и labelmap в бакет.
type Archiver struct {
	client Uploader
	bucket string
	logger *slog.Logger
}

// New подключается к хранилищу, создаёт бакет при необходимости и возвращает Archiver.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("new minio client: %w", err)
	}

	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}

	return NewWithClient(client, cfg.Bucket, logger), nil
}

// NewWithClient создаёт Archiver поверх готового клиента.
func NewWithClient(client Uploader, bucket string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{client: client, bucket: bucket, logger: logger}
}

// ObjectKey возвращает ключ объекта для файла run.
func ObjectKey(run *domain.Run, name string) string {
	return path.Join(run.WorkloadID, run.ID.String(), name)
}

// Archive выгружает файлы run. Трасса обязательна, labelmap — нет.
func (a *Archiver) Archive(ctx context.Context, run *domain.Run) error {
	files := []struct {
		name        string
		contentType string
		required    bool
	}{
		{TraceFile, "application/gzip", true},
		{LabelMapFile, "text/plain", false},
	}

	for _, f := range files {
		local := filepath.Join(run.Dir, f.name)
		if _, err := os.Stat(local); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				if f.required {
					return fmt.Errorf("%w: %s", ErrTraceMissing, local)
				}
				a.logger.Debug("skip missing file", "file", local)
				continue
			}
			return fmt.Errorf("stat %s: %w", local, err)
		}

		key := ObjectKey(run, f.name)
		info, err := a.client.FPutObject(ctx, a.bucket, key, local, minio.PutObjectOptions{
			ContentType: f.contentType,
			UserMetadata: map[string]string{
				"run-id":   run.ID.String(),
				"workload": run.Workload,
			},
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}

		a.logger.Info("archived run output",
			"bucket", a.bucket,
			"key", key,
			"size", info.Size,
		)
	}
	return nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
