// Package evidence uploads supporting documents attached to scores and
// resolutions. Storage is external; this package only needs a URL back.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"kpiboard/internal/apperr"
)

// File is an upload in flight.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store persists a file and returns a URL that can be embedded in a score.
type Store interface {
	Put(ctx context.Context, key string, f File) (string, error)
}

// Remover is implemented by stores that can roll back an upload.
type Remover interface {
	Remove(ctx context.Context, key string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey builds the storage key for a file uploaded at now.
func ObjectKey(name string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == "/" {
		base = "file"
	}
	return fmt.Sprintf("%s/%s-%s", now.UTC().Format("2006/01"), uuid.NewString(), base)
}

// Stored is one uploaded object.
type Stored struct {
	Key string
	URL string
}

// URLs returns the URLs of stored objects in upload order.
func URLs(stored []Stored) []string {
	if len(stored) == 0 {
		return nil
	}
	out := make([]string, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.URL)
	}
	return out
}

// UploadAll stores files under a single deadline. Either every file is
// stored, or nothing remains stored and the error is upload_timeout or
// upload_error.
func UploadAll(ctx context.Context, store Store, files []File, timeout time.Duration, now time.Time) ([]Stored, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if store == nil {
		return nil, apperr.New(apperr.KindUploadError, "no evidence store configured")
	}
	for _, f := range files {
		if len(f.Data) == 0 {
			return nil, apperr.New(apperr.KindValidation, "evidence file %q is empty", f.Name)
		}
	}

	uploadCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stored := make([]Stored, 0, len(files))
	for _, f := range files {
		key := ObjectKey(f.Name, now)
		url, err := store.Put(uploadCtx, key, f)
		if err == nil {
			err = uploadCtx.Err()
			if err != nil {
				stored = append(stored, Stored{Key: key, URL: url})
			}
		}
		if err != nil {
			if derr := Discard(ctx, store, stored); derr != nil {
				err = errors.Join(err, derr)
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(uploadCtx.Err(), context.DeadlineExceeded) {
				return nil, apperr.Wrap(apperr.KindUploadTimeout, err, "upload %q timed out", f.Name)
			}
			return nil, apperr.Wrap(apperr.KindUploadError, err, "upload %q", f.Name)
		}
		stored = append(stored, Stored{Key: key, URL: url})
	}
	return stored, nil
}

// Discard removes uploaded objects whose enclosing operation failed. Every
// object is attempted; the error joins the removals that did not succeed.
func Discard(ctx context.Context, store Store, stored []Stored) error {
	r, ok := store.(Remover)
	if !ok || len(stored) == 0 {
		return nil
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	var errs []error
	for _, s := range stored {
		if err := r.Remove(cleanupCtx, s.Key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", s.Key, err))
		}
	}
	return errors.Join(errs...)
}

func reader(f File) *bytes.Reader {
	return bytes.NewReader(f.Data)
}
