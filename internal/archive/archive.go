// Package archive выгружает закрытые файлы журнала вебхуков в объектное хранилище S3.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Uploader описывает часть клиента S3, используемую архиватором.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver выгружает файлы в бакет с общим префиксом ключей.
type Archiver struct {
	client Uploader
	bucket string
	prefix string
	logger *zap.Logger
}

// New создаёт архиватор с учётными данными и регионом из стандартной цепочки AWS.
func New(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

// NewWithClient создаёт архиватор поверх готового клиента.
func NewWithClient(client Uploader, bucket, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Key возвращает ключ объекта для локального файла.
func (a *Archiver) Key(file string) string {
	return path.Join(a.prefix, filepath.Base(file))
}

// Upload выгружает файл в бакет.
func (a *Archiver) Upload(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(file)),
		Body:        f,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", a.Key(file), err)
	}
	return nil
}

// Run выгружает файлы из очереди до её закрытия или отмены контекста.
func (a *Archiver) Run(ctx context.Context, files <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case file, ok := <-files:
			if !ok {
				return
			}
			if err := a.Upload(ctx, file); err != nil {
				a.logger.Error("archive audit log", zap.String("file", file), zap.Error(err))
				continue
			}
			a.logger.Info("audit log archived", zap.String("file", file), zap.String("bucket", a.bucket))
		}
	}
}
