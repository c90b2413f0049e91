package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type BucketCategory string

const (
	// BucketCategoryDraft holds author-uploaded assets that may still change.
	BucketCategoryDraft BucketCategory = "draft"
	// BucketCategoryPublished holds assets referenced by published snapshots.
	BucketCategoryPublished BucketCategory = "published"
)

// ErrObjectNotFound is returned when the source or target object does not exist.
var ErrObjectNotFound = errors.New("object not found")

type BucketService interface {
	CopyObject(ctx context.Context, src BucketCategory, srcKey string, dst BucketCategory, dstKey string) error
	DeleteFile(ctx context.Context, category BucketCategory, key string) error
	ObjectExists(ctx context.Context, category BucketCategory, key string) (bool, error)
	GetPublicURL(category BucketCategory, key string) string
	Close() error
}

type BucketConfig struct {
	DraftBucket        string
	PublishedBucket    string
	PublishedCDNDomain string
	PublicBaseURL      string
	Credentials        string
	Storage            ObjectStorageConfig
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	storage       ObjectStorageConfig
	buckets       map[BucketCategory]string
	cdnDomains    map[BucketCategory]string
	publicBaseURL string
}

func NewBucketService(log *logger.Logger, cfg BucketConfig) (BucketService, error) {
	if err := ValidateObjectStorageConfig(cfg.Storage); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	if strings.TrimSpace(cfg.DraftBucket) == "" {
		return nil, fmt.Errorf("missing DRAFT_GCS_BUCKET_NAME")
	}
	if strings.TrimSpace(cfg.PublishedBucket) == "" {
		return nil, fmt.Errorf("missing PUBLISHED_GCS_BUCKET_NAME")
	}
	publicBaseURL, err := resolvePublicBaseURL(cfg)
	if err != nil {
		return nil, err
	}
	serviceLog := log.With("service", "BucketService")

	stClient, err := newStorageClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	serviceLog.Info(
		"Object storage initialized",
		"mode", cfg.Storage.Mode,
		"compatibility_fallback", cfg.Storage.CompatibilityFallback,
		"draft_bucket", cfg.DraftBucket,
		"published_bucket", cfg.PublishedBucket,
	)
	return newBucketService(serviceLog, stClient, cfg, publicBaseURL), nil
}

func newBucketService(log *logger.Logger, client *storage.Client, cfg BucketConfig, publicBaseURL string) *bucketService {
	return &bucketService{
		log:           log,
		storageClient: client,
		storage:       cfg.Storage,
		buckets: map[BucketCategory]string{
			BucketCategoryDraft:     strings.TrimSpace(cfg.DraftBucket),
			BucketCategoryPublished: strings.TrimSpace(cfg.PublishedBucket),
		},
		cdnDomains: map[BucketCategory]string{
			BucketCategoryPublished: strings.TrimSpace(cfg.PublishedCDNDomain),
		},
		publicBaseURL: publicBaseURL,
	}
}

func newStorageClient(ctx context.Context, cfg BucketConfig) (*storage.Client, error) {
	if cfg.Storage.IsEmulatorMode() {
		// The storage client reads the emulator endpoint from the environment.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(cfg.Storage.EmulatorHost, "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := ClientOptions(cfg.Credentials)
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func resolvePublicBaseURL(cfg BucketConfig) (string, error) {
	raw := strings.TrimSpace(cfg.PublicBaseURL)
	if raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return "", fmt.Errorf("invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL", raw)
		}
		return strings.TrimRight(raw, "/"), nil
	}
	if cfg.Storage.IsEmulatorMode() {
		return strings.TrimRight(cfg.Storage.EmulatorHost, "/"), nil
	}
	return "", nil
}

func (bs *bucketService) bucketName(category BucketCategory) (string, error) {
	name, ok := bs.buckets[category]
	if !ok || name == "" {
		return "", fmt.Errorf("unknown bucket category: %s", category)
	}
	return name, nil
}

func (bs *bucketService) CopyObject(ctx context.Context, src BucketCategory, srcKey string, dst BucketCategory, dstKey string) error {
	srcBucket, err := bs.bucketName(src)
	if err != nil {
		return err
	}
	dstBucket, err := bs.bucketName(dst)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	srcObj := bs.storageClient.Bucket(srcBucket).Object(srcKey)
	dstObj := bs.storageClient.Bucket(dstBucket).Object(dstKey)
	if _, err := dstObj.CopierFrom(srcObj).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("copy %s/%s->%s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, ErrObjectNotFound)
		}
		return fmt.Errorf("copy %s/%s->%s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return nil
}

func (bs *bucketService) DeleteFile(ctx context.Context, category BucketCategory, key string) error {
	name, err := bs.bucketName(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(name).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %q in bucket %q: %w", key, name, ErrObjectNotFound)
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, name, err)
	}
	return nil
}

func (bs *bucketService) ObjectExists(ctx context.Context, category BucketCategory, key string) (bool, error) {
	name, err := bs.bucketName(category)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = bs.storageClient.Bucket(name).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (bs *bucketService) GetPublicURL(category BucketCategory, key string) string {
	name, err := bs.bucketName(category)
	if err != nil {
		return key
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if cdn := bs.cdnDomains[category]; cdn != "" {
		return fmt.Sprintf("https://%s/%s", cdn, key)
	}
	if bs.storage.IsEmulatorMode() && bs.publicBaseURL != "" {
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", bs.publicBaseURL, url.PathEscape(name), url.PathEscape(key))
	}
	if bs.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", bs.publicBaseURL, name, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", name, key)
}

func (bs *bucketService) Close() error {
	if bs == nil || bs.storageClient == nil {
		return nil
	}
	return bs.storageClient.Close()
}
