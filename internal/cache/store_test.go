package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// storageDrivers 让同一组用例覆盖全部驱动。
var storageDrivers = []string{"fs", "sqlite", "memory"}

func TestStoragePutAndMatch(t *testing.T) {
	for _, driver := range storageDrivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			storage := newTestStorage(t, driver)

			c, err := storage.Open(ctx, "v1")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			payload := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
			if err := c.Put(ctx, "/a.txt", payload); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := c.Match(ctx, "/a.txt")
			if err != nil {
				t.Fatalf("match error: %v", err)
			}
			if string(got) != string(payload) {
				t.Fatalf("payload mismatch: %q", got)
			}

			if _, err := c.Match(ctx, "/missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			keys, err := c.Keys(ctx)
			if err != nil {
				t.Fatalf("keys error: %v", err)
			}
			if len(keys) != 1 || keys[0] != "/a.txt" {
				t.Fatalf("unexpected keys: %v", keys)
			}
		})
	}
}

func TestStorageMatchIgnoresUnsealedCaches(t *testing.T) {
	for _, driver := range storageDrivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			storage := newTestStorage(t, driver)

			c, err := storage.Open(ctx, "v2")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			if err := c.Put(ctx, "/b.txt", []byte("data")); err != nil {
				t.Fatalf("put error: %v", err)
			}

			if _, err := storage.Match(ctx, "/b.txt"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("unsealed cache should not match, got %v", err)
			}

			if err := c.Seal(ctx, "manifest-1"); err != nil {
				t.Fatalf("seal error: %v", err)
			}
			result, err := storage.Match(ctx, "/b.txt")
			if err != nil {
				t.Fatalf("match after seal error: %v", err)
			}
			if result.CacheName != "v2" || string(result.Data) != "data" {
				t.Fatalf("unexpected match: %+v", result)
			}

			manifest, sealed, err := c.Manifest(ctx)
			if err != nil || !sealed || manifest != "manifest-1" {
				t.Fatalf("manifest mismatch: %q %v %v", manifest, sealed, err)
			}

			if err := c.Unseal(ctx); err != nil {
				t.Fatalf("unseal error: %v", err)
			}
			if _, sealed, _ := c.Manifest(ctx); sealed {
				t.Fatalf("cache should be unsealed")
			}
			if _, err := storage.Match(ctx, "/b.txt"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("unsealed cache should not match, got %v", err)
			}
		})
	}
}

func TestStorageMatchSearchesCachesInNameOrder(t *testing.T) {
	for _, driver := range storageDrivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			storage := newTestStorage(t, driver)

			for _, name := range []string{"v2", "v1"} {
				c, err := storage.Open(ctx, name)
				if err != nil {
					t.Fatalf("open error: %v", err)
				}
				if err := c.Put(ctx, "/", []byte(name)); err != nil {
					t.Fatalf("put error: %v", err)
				}
				if err := c.Seal(ctx, name); err != nil {
					t.Fatalf("seal error: %v", err)
				}
			}

			result, err := storage.Match(ctx, "/")
			if err != nil {
				t.Fatalf("match error: %v", err)
			}
			if result.CacheName != "v1" {
				t.Fatalf("expected first cache by name, got %s", result.CacheName)
			}
		})
	}
}

func TestStorageKeysAndDelete(t *testing.T) {
	for _, driver := range storageDrivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			storage := newTestStorage(t, driver)

			for _, name := range []string{"v3", "v1", "v2"} {
				if _, err := storage.Open(ctx, name); err != nil {
					t.Fatalf("open %s error: %v", name, err)
				}
			}
			keys, err := storage.Keys(ctx)
			if err != nil {
				t.Fatalf("keys error: %v", err)
			}
			if len(keys) != 3 || keys[0] != "v1" || keys[2] != "v3" {
				t.Fatalf("keys should be sorted: %v", keys)
			}

			deleted, err := storage.Delete(ctx, "v1")
			if err != nil || !deleted {
				t.Fatalf("delete v1: deleted=%v err=%v", deleted, err)
			}
			deleted, err = storage.Delete(ctx, "v1")
			if err != nil || deleted {
				t.Fatalf("second delete should report missing: deleted=%v err=%v", deleted, err)
			}
			if ok, _ := storage.Has(ctx, "v1"); ok {
				t.Fatalf("v1 should be gone")
			}
			if ok, _ := storage.Has(ctx, "v2"); !ok {
				t.Fatalf("v2 should remain")
			}
		})
	}
}

func TestStorageOpenRejectsInvalidNames(t *testing.T) {
	for _, driver := range storageDrivers {
		t.Run(driver, func(t *testing.T) {
			storage := newTestStorage(t, driver)
			for _, name := range []string{"", "../escape", ".hidden", "a/b"} {
				if _, err := storage.Open(context.Background(), name); !errors.Is(err, ErrInvalidName) {
					t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
				}
			}
		})
	}
}

func TestStorageHonorsCanceledContext(t *testing.T) {
	storage := newTestStorage(t, "fs")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := storage.Open(ctx, "v1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFileStorageLayout(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	ctx := context.Background()
	c, err := storage.Open(ctx, "bmp-editor-07")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := c.Put(ctx, "/bmp-editor.wasm", []byte("wasm")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := c.Seal(ctx, "m"); err != nil {
		t.Fatalf("seal error: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "bmp-editor-07", entriesDir))
	if err != nil {
		t.Fatalf("read entries dir: %v", err)
	}
	if len(entries) != 1 || filepath.Ext(entries[0].Name()) != entrySuffix {
		t.Fatalf("unexpected entries: %v", entries)
	}
	if _, err := os.Stat(filepath.Join(dir, "bmp-editor-07", sealFileName)); err != nil {
		t.Fatalf("seal marker missing: %v", err)
	}

	// 临时目录与隐藏目录不应被视为缓存。
	if err := os.Mkdir(filepath.Join(dir, ".cache-tmp"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	keys, err := storage.Keys(ctx)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "bmp-editor-07" {
		t.Fatalf("unexpected cache names: %v", keys)
	}
}

func TestNewStorageRejectsUnknownDriver(t *testing.T) {
	if _, err := NewStorage("redis", t.TempDir()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

// newTestStorage returns a Storage of the given driver backed by a temporary directory.
func newTestStorage(t *testing.T, driver string) Storage {
	t.Helper()
	storage, err := NewStorage(driver, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create %s storage: %v", driver, err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}
