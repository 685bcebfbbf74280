package files

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignTTL = 15 * time.Minute

// Service stores message attachments in object storage. Image attachments
// get a 320px JPEG thumbnail alongside the original so previews don't pull
// full-size photos over a poor connection.
type Service struct {
	client *minio.Client
	bucket string
}

func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
}

func NewService(client *minio.Client, bucket string) *Service {
	return &Service{client: client, bucket: bucket}
}

func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// ObjectKey is the canonical location of a message attachment.
func ObjectKey(chatID, messageID string) string {
	return fmt.Sprintf("attachments/%s/%s", chatID, messageID)
}

func thumbKey(objectKey string) string {
	return objectKey + "_thumb.jpg"
}

// PresignUpload hands the device a short-lived URL to push the attachment
// bytes directly, keeping large payloads off this service.
func (s *Service) PresignUpload(ctx context.Context, chatID, messageID string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, ObjectKey(chatID, messageID), presignTTL)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// PresignDownload returns a short-lived URL for the original or, when
// thumbnail is set, the preview rendition.
func (s *Service) PresignDownload(ctx context.Context, chatID, messageID string, thumbnail bool) (string, error) {
	key := ObjectKey(chatID, messageID)
	if thumbnail {
		key = thumbKey(key)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ProcessUpload runs after the device finished its upload: image content
// gets a thumbnail rendition written next to the original. Returns the
// thumbnail key, empty for non-image content.
func (s *Service) ProcessUpload(ctx context.Context, chatID, messageID, contentType string) (string, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return "", nil
	}
	return s.makeThumbnail(ctx, ObjectKey(chatID, messageID))
}

func (s *Service) makeThumbnail(ctx context.Context, objectKey string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()

	img, _, err := image.Decode(obj)
	if err != nil {
		return "", err
	}

	thumb := imaging.Thumbnail(img, 320, 320, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", err
	}

	key := thumbKey(objectKey)
	reader := bytes.NewReader(buf.Bytes())
	_, err = s.client.PutObject(ctx, s.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("upload thumb: %w", err)
	}
	return key, nil
}
