package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cinedb/cinedb/internal/config"
)

type fakeS3 struct {
	puts    map[string]string
	types   map[string]string
	deleted []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[aws.ToString(in.Key)] = string(b)
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newAvatars() (*Avatars, *fakeS3) {
	f := &fakeS3{puts: map[string]string{}, types: map[string]string{}}
	return NewAvatarsWithAPI(f, config.StorageConfig{
		Bucket:       "cinedb",
		Endpoint:     "https://s3.example.com",
		PublicDomain: "https://files.example.com/",
		MaxBytes:     16,
	}), f
}

func TestUploadAndDelete(t *testing.T) {
	ctx := context.Background()
	a, f := newAvatars()
	url, err := a.Upload(ctx, 42, "Me.PNG", "", 5, strings.NewReader("image"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "https://files.example.com/cinedb/avatars/42/") || !strings.HasSuffix(url, ".png") {
		t.Errorf("url = %s", url)
	}
	key := strings.TrimPrefix(url, "https://files.example.com/cinedb/")
	if f.puts[key] != "image" || f.types[key] != "image/png" {
		t.Errorf("stored %q as %q", f.puts[key], f.types[key])
	}

	if err := a.Delete(ctx, url); err != nil {
		t.Fatal(err)
	}
	if err := a.Delete(ctx, "https://elsewhere.example.com/x.png"); err != nil {
		t.Fatal(err)
	}
	if len(f.deleted) != 1 || f.deleted[0] != key {
		t.Errorf("deleted = %v", f.deleted)
	}
}

func TestUploadRejects(t *testing.T) {
	ctx := context.Background()
	a, _ := newAvatars()
	if _, err := a.Upload(ctx, 1, "cv.pdf", "application/pdf", 3, strings.NewReader("pdf")); !errors.Is(err, ErrFileType) {
		t.Errorf("pdf err = %v", err)
	}
	if _, err := a.Upload(ctx, 1, "fake.png", "text/html", 3, strings.NewReader("<b>")); !errors.Is(err, ErrFileType) {
		t.Errorf("html err = %v", err)
	}
	if _, err := a.Upload(ctx, 1, "big.jpg", "image/jpeg", 17, strings.NewReader("x")); !errors.Is(err, ErrTooLarge) {
		t.Errorf("size err = %v", err)
	}
	var disabled *Avatars
	if _, err := disabled.Upload(ctx, 1, "a.png", "", 1, strings.NewReader("x")); !errors.Is(err, ErrDisabled) {
		t.Errorf("disabled err = %v", err)
	}
}
