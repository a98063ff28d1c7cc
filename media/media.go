// Package media stores post images in Google Cloud Storage.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const imageKeyPrefix = "post-images/"

// MaxImageBytes is the largest image Upload accepts.
const MaxImageBytes = 10 << 20

var (
	ErrNotAnImage    = errors.New("uploaded file is not an image")
	ErrImageTooLarge = errors.New("image is too large")
)

// Uploader writes images to a GCS bucket and hands back their public URLs.
type Uploader struct {
	gcs    *storage.Client
	bucket string
}

func NewUploader(gcs *storage.Client, bucket string) *Uploader {
	return &Uploader{
		gcs:    gcs,
		bucket: bucket,
	}
}

// imageExtensions lists the image types Upload accepts.
var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// objectName returns a fresh object name for an image uploaded by userID.
func objectName(userID, contentType string) string {
	return path.Join(imageKeyPrefix, userID, uuid.NewString()+imageExtensions[contentType])
}

// sniffImage detects the type of the image in r from its leading bytes.  The
// returned reader yields the whole content again.
func sniffImage(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, fmt.Errorf("while reading image: %w", err)
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	if _, ok := imageExtensions[contentType]; !ok {
		return "", nil, ErrNotAnImage
	}
	return contentType, io.MultiReader(bytes.NewReader(head), r), nil
}

// PublicURL is the URL an object in the bucket is served from.
func (u *Uploader) PublicURL(name string) string {
	return (&url.URL{
		Scheme: "https",
		Host:   "storage.googleapis.com",
		Path:   "/" + u.bucket + "/" + name,
	}).String()
}

// Upload stores an image and returns its URL.  The type is taken from the
// content itself, and only JPEG, PNG, GIF and WebP are accepted.  The image is
// used verbatim.
func (u *Uploader) Upload(ctx context.Context, userID string, r io.Reader) (string, error) {
	tracer := otel.Tracer("socialfeed/media")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Uploader.Upload")
	defer span.End()

	contentType, r, err := sniffImage(r)
	if err != nil {
		return "", err
	}

	name := objectName(userID, contentType)
	span.SetAttributes(attribute.String("object", name))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create condition: object does not currently exist.
	w := u.gcs.Bucket(u.bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	n, err := io.Copy(w, io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		// Cancelling the context aborts the upload.
		cancel()
		w.Close()
		err := fmt.Errorf("while writing image to object writer: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if n > MaxImageBytes {
		cancel()
		w.Close()
		return "", ErrImageTooLarge
	}

	if err := w.Close(); err != nil {
		err := fmt.Errorf("while closing object writer: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetStatus(codes.Ok, "")
	return u.PublicURL(name), nil
}
