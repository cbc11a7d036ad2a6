package storage_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/milearning/milearning/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(context.Background(), storage.Config{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "http://localhost:9000",
		Bucket:         "avatars",
		AccessKey:      "test",
		SecretKey:      "test",
		MaxUploadBytes: 1024,
	})
	if err != nil {
		t.Fatalf("expected no error creating storage client, got: %v", err)
	}
	return s
}

func TestGenerateUploadURL_PresignsAgainstPublicEndpoint(t *testing.T) {
	s := newTestStorage(t)

	url, err := s.GenerateUploadURL(context.Background(), "avatars/u1/1.png", "image/png", 512, 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:9000/avatars/avatars/u1/1.png?") {
		t.Errorf("unexpected presigned URL %s", url)
	}
	if !strings.Contains(url, "X-Amz-Signature=") {
		t.Errorf("expected signed URL, got %s", url)
	}
}

func TestGenerateUploadURL_RejectsOversizedUpload(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GenerateUploadURL(context.Background(), "k", "image/png", 2048, time.Minute)
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestGenerateUploadURL_NilStorage(t *testing.T) {
	var s *storage.Storage
	if _, err := s.GenerateUploadURL(context.Background(), "k", "image/png", 1, time.Minute); err == nil {
		t.Error("expected error from nil storage")
	}
}

func TestPublicURL(t *testing.T) {
	s := newTestStorage(t)
	if got := s.PublicURL("avatars/u1/1.png"); got != "http://localhost:9000/avatars/avatars/u1/1.png" {
		t.Errorf("PublicURL() = %s", got)
	}
}

func TestAvatarKey(t *testing.T) {
	now := time.Unix(1700000000, 0)

	key, err := storage.AvatarKey("user_1", "image/jpeg", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "avatars/user_1/1700000000.jpg" {
		t.Errorf("AvatarKey() = %s", key)
	}

	if _, err := storage.AvatarKey("user_1", "application/pdf", now); !errors.Is(err, storage.ErrUnsupportedContent) {
		t.Errorf("expected ErrUnsupportedContent, got %v", err)
	}
}
