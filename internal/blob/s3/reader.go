package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// Reader reads settlement archives back out of the bucket.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader for the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Open streams the object at path; the caller closes it. A missing object
// yields domain.ErrNotFound, which the archiver reads as an empty archive,
// so no separate existence check is made.
func (r *Reader) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	switch {
	case err == nil:
		return out.Body, nil
	case isNotFound(err):
		return nil, fmt.Errorf("s3blob: open %s: %w", path, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("s3blob: open %s: %w", path, err)
	}
}

// List returns the objects under prefix ordered by path.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var objects []types.Object
	pages := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		objects = append(objects, page.Contents...)
	}
	return blobInfos(objects), nil
}

// blobInfos converts listed objects, dropping the zero-byte folder markers
// that bucket consoles create.
func blobInfos(objects []types.Object) []domain.BlobInfo {
	infos := make([]domain.BlobInfo, 0, len(objects))
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		if key == "" || strings.HasSuffix(key, "/") {
			continue
		}
		info := domain.BlobInfo{Path: key, Size: aws.ToInt64(obj.Size)}
		if obj.LastModified != nil {
			info.LastModified = obj.LastModified.UTC()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

// isNotFound matches NoSuchKey from AWS as well as the bare 404 some
// S3-compatible stores send instead.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobReader = (*Reader)(nil)
