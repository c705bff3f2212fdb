package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"petscan/config"
)

// NewS3Client creates an S3 client against the configured endpoint.
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// S3ImageMirror downloads provider product images and stores a copy in the
// bucket, keyed by barcode. Provider image URLs rot; the mirror keeps the
// catalog self-contained.
type S3ImageMirror struct {
	Client *s3.Client
	Config *config.Config
	Logger *zap.Logger

	httpClient *http.Client
}

// NewS3ImageMirror creates an image mirror on the given client.
func NewS3ImageMirror(client *s3.Client, cfg *config.Config, logger *zap.Logger) *S3ImageMirror {
	return &S3ImageMirror{
		Client:     client,
		Config:     cfg,
		Logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// MirrorImage fetches the image and uploads it, returning the bucket link.
func (m *S3ImageMirror) MirrorImage(ctx context.Context, barcode, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download failed: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	key := "images/" + barcode + ".jpg"
	contentType := resp.Header.Get("Content-Type")
	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &m.Config.S3Bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", err
	}

	link := fmt.Sprintf("%s/%s/%s", m.Config.S3URL, m.Config.S3Bucket, key)
	m.Logger.Debug("Product image mirrored", zap.String("barcode", barcode), zap.String("link", link))
	return link, nil
}
