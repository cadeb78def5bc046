package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/party"
)

const fileExt = ".json"

// FileCache stores one file per entry under <dir>/<party_id>/<key>.json.
// Every write goes to a temp file that is renamed into place, so readers
// never observe a half-written page.
type FileCache struct {
	dir    string
	codec  *codec
	logger *zap.Logger
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string, compress bool, logger *zap.Logger) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	c, err := newCodec(compress)
	if err != nil {
		return nil, err
	}
	return &FileCache{dir: dir, codec: c, logger: logger}, nil
}

// Dir returns the cache root.
func (f *FileCache) Dir() string {
	return f.dir
}

// partyDir escapes the id into a single path segment below the cache root.
func (f *FileCache) partyDir(partyID string) (string, error) {
	if err := validatePartyID(partyID); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, url.PathEscape(partyID)), nil
}

func (f *FileCache) entryPath(partyID, key string) (string, error) {
	dir, err := f.partyDir(partyID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, key+fileExt), nil
}

func (f *FileCache) Get(ctx context.Context, partyID, key string) (party.Page, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	path, err := f.entryPath(partyID, key)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", StorageKey(partyID, key), err)
	}

	page, err := f.codec.decode(b)
	if err != nil {
		f.drop(path, partyID, key, err)
		return nil, false, nil
	}
	return page, true, nil
}

func (f *FileCache) Put(ctx context.Context, partyID, key string, page party.Page) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return f.write(partyID, key, page)
}

func (f *FileCache) PutCurrent(ctx context.Context, partyID string, page party.Page) error {
	return f.write(partyID, party.CurrentKey, page)
}

func (f *FileCache) write(partyID, key string, page party.Page) error {
	destPath, err := f.entryPath(partyID, key)
	if err != nil {
		return err
	}
	b, err := f.codec.encode(page)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(b)
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", StorageKey(partyID, key), err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func (f *FileCache) Clear(ctx context.Context, partyID string) error {
	dir, err := f.partyDir(partyID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing party %s: %w", partyID, err)
	}
	return nil
}

func (f *FileCache) LoadAll(ctx context.Context) (map[string][]Entry, error) {
	result := make(map[string][]Entry)

	parties, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	for _, pd := range parties {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !pd.IsDir() {
			continue
		}
		partyID, err := url.PathUnescape(pd.Name())
		if err != nil {
			f.logger.Warn("skipping unreadable party directory", zap.String("dir", pd.Name()), zap.Error(err))
			continue
		}

		files, err := os.ReadDir(filepath.Join(f.dir, pd.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading party directory %s: %w", partyID, err)
		}

		for _, file := range files {
			name := file.Name()
			if file.IsDir() || !strings.HasSuffix(name, fileExt) {
				continue
			}
			key := strings.TrimSuffix(name, fileExt)
			path := filepath.Join(f.dir, pd.Name(), name)

			if err := validateKey(key); err != nil {
				f.drop(path, partyID, key, err)
				continue
			}

			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", StorageKey(partyID, key), err)
			}
			page, err := f.codec.decode(b)
			if err != nil {
				f.drop(path, partyID, key, err)
				continue
			}
			result[partyID] = append(result[partyID], Entry{PartyID: partyID, Key: key, Page: page})
		}
	}

	return result, nil
}

func (f *FileCache) drop(path, partyID, key string, cause error) {
	f.logger.Warn("dropping corrupt cache entry",
		zap.String("key", StorageKey(partyID, key)),
		zap.Error(cause),
	)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.logger.Warn("failed to remove corrupt cache entry", zap.String("path", path), zap.Error(err))
	}
}

func (f *FileCache) Close() error {
	f.codec.close()
	return nil
}

var _ PageCache = (*FileCache)(nil)
