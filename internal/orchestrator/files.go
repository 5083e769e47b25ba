package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// maxFileCtxChars bounds how much of an attachment is inlined into the
// prompt, matching the ~50,000-char per-source block cap used for every
// other context source.
const maxFileCtxChars = 50_000

// FileStore fetches file_ctx attachments that were too large to pass
// inline — the caller hands the orchestrator an object key instead of the
// file body, and this resolves it from object storage just before prompt
// assembly.
type FileStore struct {
	client *minio.Client
	bucket string
}

func NewFileStore(client *minio.Client, bucket string) *FileStore {
	return &FileStore{client: client, bucket: bucket}
}

// Fetch downloads an object and returns it truncated to maxFileCtxChars.
func (s *FileStore) Fetch(ctx context.Context, objectKey string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("orchestrator: fetching file_ctx object %q: %w", objectKey, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, obj, maxFileCtxChars); err != nil && err != io.EOF {
		return "", fmt.Errorf("orchestrator: reading file_ctx object %q: %w", objectKey, err)
	}
	return buf.String(), nil
}
