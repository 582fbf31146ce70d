package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/graphcrawl/backend/internal/util"
	"github.com/graphcrawl/backend/pkg/common"
)

const snapshotPrefix = "crawls"

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the stored result of one crawl run.
type Snapshot struct {
	ID        string       `json:"id"`
	Terms     []string     `json:"terms"`
	CreatedAt time.Time    `json:"created_at"`
	Report    any          `json:"report,omitempty"`
	Graph     common.Graph `json:"graph"`
}

// NewS3Client builds a client from the AWS_* environment. It returns nil
// when no bucket is configured.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	if util.GetEnv("AWS_BUCKET") == "" {
		return nil, nil
	}
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(util.GetEnvString("AWS_REGION", "us-east-1")),
		config.WithBaseEndpoint(util.GetEnv("AWS_ENDPOINT")),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			util.GetEnv("AWS_ACCESS_KEY"),
			util.GetEnv("AWS_SECRET_KEY"),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// SnapshotKey returns the object key of a run's snapshot.
func SnapshotKey(id string) string {
	return fmt.Sprintf("%s/%s.json", snapshotPrefix, id)
}

// SnapshotStore keeps crawl snapshots as JSON objects in one bucket.
type SnapshotStore struct {
	client *s3.Client
	bucket string
}

func NewSnapshotStore(client *s3.Client, bucket string) *SnapshotStore {
	return &SnapshotStore{client: client, bucket: bucket}
}

// PutSnapshot uploads snap and returns its object key.
func (s *SnapshotStore) PutSnapshot(ctx context.Context, snap Snapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	key := SnapshotKey(snap.ID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot to S3: %w", err)
	}
	return key, nil
}

// GetSnapshot downloads the snapshot of run id.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(SnapshotKey(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to get snapshot from S3: %w", err)
	}
	defer result.Body.Close()

	var snap Snapshot
	if err := json.NewDecoder(result.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(SnapshotKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot from S3: %w", err)
	}
	return nil
}

// DownloadLink presigns a GET for the snapshot of run id. When publicEndpoint
// is set the link is signed for that host, keeping a path prefix if any.
func (s *SnapshotStore) DownloadLink(ctx context.Context, id, publicEndpoint string) (string, error) {
	client := s.client
	prefix := ""
	if publicEndpoint != "" {
		publicURL, err := url.Parse(publicEndpoint)
		if err != nil || publicURL.Scheme == "" || publicURL.Host == "" {
			return "", fmt.Errorf("invalid public endpoint: %s", publicEndpoint)
		}
		prefix = strings.TrimSuffix(publicURL.Path, "/")
		base := fmt.Sprintf("%s://%s", publicURL.Scheme, publicURL.Host)

		client = s3.NewFromConfig(
			aws.Config{
				Region:      s.client.Options().Region,
				Credentials: s.client.Options().Credentials,
				HTTPClient:  s.client.Options().HTTPClient,
			},
			func(o *s3.Options) {
				o.BaseEndpoint = aws.String(base)
				o.UsePathStyle = true
			},
		)
	}

	out, err := s3.NewPresignClient(client).PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(SnapshotKey(id)),
		},
		s3.WithPresignExpires(15*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}

	if prefix == "" {
		return out.URL, nil
	}
	signed, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned url: %w", err)
	}
	signed.Path = prefix + signed.Path
	return signed.String(), nil
}
