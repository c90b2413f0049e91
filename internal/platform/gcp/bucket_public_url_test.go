package gcp

import (
	"testing"

	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

func testBucketService(cfg BucketConfig) *bucketService {
	base, err := resolvePublicBaseURL(cfg)
	if err != nil {
		panic(err)
	}
	return newBucketService(logger.NewNop(), nil, cfg, base)
}

func TestGetPublicURLDefaultsToGoogleStorage(t *testing.T) {
	bs := testBucketService(BucketConfig{
		DraftBucket:     "gonasi-thumbnails",
		PublishedBucket: "gonasi-published-thumbnails",
		Storage:         ObjectStorageConfig{Mode: ObjectStorageModeGCS},
	})
	got := bs.GetPublicURL(BucketCategoryPublished, "/course-1/cover.webp")
	want := "https://storage.googleapis.com/gonasi-published-thumbnails/course-1/cover.webp"
	if got != want {
		t.Fatalf("public url: want=%q got=%q", want, got)
	}
}

func TestGetPublicURLUsesCDNForPublishedOnly(t *testing.T) {
	bs := testBucketService(BucketConfig{
		DraftBucket:        "draft",
		PublishedBucket:    "published",
		PublishedCDNDomain: "cdn.gonasi.com",
		Storage:            ObjectStorageConfig{Mode: ObjectStorageModeGCS},
	})
	if got := bs.GetPublicURL(BucketCategoryPublished, "c/cover.webp"); got != "https://cdn.gonasi.com/c/cover.webp" {
		t.Fatalf("published cdn url: got=%q", got)
	}
	if got := bs.GetPublicURL(BucketCategoryDraft, "c/cover.webp"); got != "https://storage.googleapis.com/draft/c/cover.webp" {
		t.Fatalf("draft url: got=%q", got)
	}
}

func TestGetPublicURLEmulatorMediaLink(t *testing.T) {
	bs := testBucketService(BucketConfig{
		DraftBucket:     "draft",
		PublishedBucket: "published",
		Storage:         ObjectStorageConfig{Mode: ObjectStorageModeGCSEmulator, EmulatorHost: "http://localhost:4443/"},
	})
	got := bs.GetPublicURL(BucketCategoryPublished, "c/cover image.webp")
	want := "http://localhost:4443/storage/v1/b/published/o/c%2Fcover%20image.webp?alt=media"
	if got != want {
		t.Fatalf("emulator url: want=%q got=%q", want, got)
	}
}

func TestBucketNameRejectsUnknownCategory(t *testing.T) {
	bs := testBucketService(BucketConfig{DraftBucket: "d", PublishedBucket: "p", Storage: ObjectStorageConfig{Mode: ObjectStorageModeGCS}})
	if _, err := bs.bucketName("avatar"); err == nil {
		t.Fatalf("bucketName: expected error for unknown category")
	}
}
