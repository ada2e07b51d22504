// Package profile loads the condensed CV summary used to analyze leads for a user.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/amishk599/leadscout/internal/model"
)

const maxSummaryBytes = 64 * 1024

// DirStore reads summaries from <dir>/<email>.md.
type DirStore struct {
	dir string
}

// NewDirStore creates a store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Summary returns the user's summary, or ErrNotFound when the file is missing or blank.
func (s *DirStore) Summary(_ context.Context, email string) (string, error) {
	name, err := fileName(email)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name+".md"))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("profile summary for %s: %w", email, model.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read profile summary for %s: %w", email, err)
	}
	return nonEmpty(email, b)
}

// ObjectGetter is the subset of the S3 client S3Store needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads summaries from s3://<bucket>/<prefix>/<email>/summary.md.
type S3Store struct {
	api    ObjectGetter
	bucket string
	prefix string
}

// NewS3Store creates a store over bucket.
func NewS3Store(api ObjectGetter, bucket, prefix string) *S3Store {
	return &S3Store{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key holding email's summary.
func (s *S3Store) Key(email string) string {
	return path.Join(s.prefix, strings.ToLower(strings.TrimSpace(email)), "summary.md")
}

// Summary fetches the summary object. A missing object is ErrNotFound; other
// S3 failures are transient.
func (s *S3Store) Summary(ctx context.Context, email string) (string, error) {
	if _, err := fileName(email); err != nil {
		return "", err
	}
	key := s.Key(email)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", fmt.Errorf("profile summary s3://%s/%s: %w", s.bucket, key, model.ErrNotFound)
		}
		return "", model.Transient("get profile summary", err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(io.LimitReader(out.Body, maxSummaryBytes))
	if err != nil {
		return "", model.Transient("read profile summary", err)
	}
	return nonEmpty(email, b)
}

func fileName(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" || strings.ContainsAny(e, `/\`) || strings.Contains(e, "..") {
		return "", fmt.Errorf("profile email %q: %w", email, model.ErrValidation)
	}
	return e, nil
}

func nonEmpty(email string, b []byte) (string, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("profile summary for %s is empty: %w", email, model.ErrNotFound)
	}
	return s, nil
}
