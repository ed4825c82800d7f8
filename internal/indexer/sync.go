package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alqutdigital/finance-chat/internal/storage"
)

// PushIndex uploads the index file and, when given, the chunks file.
func PushIndex(ctx context.Context, store storage.ObjectStorage, prefix, indexDir, chunksFile string) ([]string, error) {
	files := []string{filepath.Join(indexDir, storage.LocalIndexFile)}
	if chunksFile != "" {
		files = append(files, chunksFile)
	}

	var keys []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return keys, fmt.Errorf("missing index artifact: %w", err)
		}
		key := storage.IndexObjectPath(prefix, filepath.Base(f))
		if _, err := store.UploadFile(ctx, f, key); err != nil {
			return keys, fmt.Errorf("failed to upload %s: %w", f, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PullIndex downloads the index file into indexDir. It reports false when
// the bucket holds no index.
func PullIndex(ctx context.Context, store storage.ObjectStorage, prefix, indexDir string) (bool, error) {
	key := storage.IndexObjectPath(prefix, storage.LocalIndexFile)
	ok, err := store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create index directory: %w", err)
	}
	if err := store.DownloadFile(ctx, key, filepath.Join(indexDir, storage.LocalIndexFile)); err != nil {
		return false, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return true, nil
}
