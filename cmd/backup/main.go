package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
)

type BackupConfig struct {
	PostgresHost     string `envconfig:"POSTGRES_HOST" required:"true"`
	PostgresUser     string `envconfig:"POSTGRES_USER" required:"true"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	PostgresDB       string `envconfig:"POSTGRES_DB" required:"true"`
	BackupBucket     string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint   string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey  string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey  string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion     string `envconfig:"BACKUP_S3_REGION" required:"true"`
	KeepBackups      int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

const backupPrefix = "catalog-backup-"

func main() {
	log.Println("Starting catalog backup...")

	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	dumpData, err := createDump(cfg)
	if err != nil {
		log.Fatalf("pg_dump failed: %v", err)
	}

	s3Client, err := createS3Client(cfg)
	if err != nil {
		log.Fatalf("S3 client creation failed: %v", err)
	}

	fileName := fmt.Sprintf("%s%s.sql.gz", backupPrefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := uploadToS3(s3Client, cfg, fileName, dumpData); err != nil {
		log.Fatalf("S3 upload failed: %v", err)
	}
	log.Printf("Backup uploaded to s3://%s/%s", cfg.BackupBucket, fileName)

	if err := rotateBackups(s3Client, cfg); err != nil {
		log.Fatalf("Backup rotation failed: %v", err)
	}

	log.Println("Catalog backup finished.")
}

func createDump(cfg BackupConfig) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.PostgresHost,
		"-U", cfg.PostgresUser,
		"-d", cfg.PostgresDB,
		"-w", // password comes via PGPASSWORD
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.PostgresPassword))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzipWriter, stdout); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func createS3Client(cfg BackupConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: cfg.BackupEndpoint,
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.BackupAccessKey, cfg.BackupSecretKey, "")),
		config.WithRegion(cfg.BackupRegion),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

func uploadToS3(client *s3.Client, cfg BackupConfig, key string, data []byte) error {
	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: &cfg.BackupBucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	return err
}

// rotateBackups deletes the oldest backups beyond KeepBackups. Object keys
// embed a sortable timestamp, so lexicographic order is chronological.
func rotateBackups(client *s3.Client, cfg BackupConfig) error {
	prefix := backupPrefix
	out, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket: &cfg.BackupBucket,
		Prefix: &prefix,
	})
	if err != nil {
		return err
	}

	var keys []string
	for _, obj := range out.Contents {
		if obj.Key != nil {
			keys = append(keys, *obj.Key)
		}
	}
	sort.Strings(keys)

	if len(keys) <= cfg.KeepBackups {
		return nil
	}
	for _, key := range keys[:len(keys)-cfg.KeepBackups] {
		k := key
		if _, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
			Bucket: &cfg.BackupBucket,
			Key:    &k,
		}); err != nil {
			return err
		}
		log.Printf("Deleted old backup %s", key)
	}
	return nil
}
