package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/fundsim/internal/config"
	testingpkg "github.com/aristath/fundsim/internal/testing"
)

type memoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(ctx context.Context, key string, body io.Reader) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestBackupService_CreateAndUploadBackup(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "fund")
	defer cleanup()
	_, err := db.Conn().Exec(`INSERT INTO instruments (ticker) VALUES ('AAA'), ('BBB')`)
	require.NoError(t, err)

	store := newMemoryStore()
	svc := NewBackupService(db, store, t.TempDir(), zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 5, 6, 3, 0, 0, 0, time.UTC) }

	info, err := svc.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fundsim-backup-2024-05-06-030000.tar.gz", info.Filename)
	assert.Greater(t, info.SizeBytes, int64(0))

	// Archive holds the snapshot and its metadata
	data := store.objects[info.Filename]
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	require.Contains(t, files, "fund.db")
	require.Contains(t, files, "backup-metadata.json")

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &meta))
	assert.Equal(t, "fund", meta.Database)
	assert.Equal(t, int64(len(files["fund.db"])), meta.SizeBytes)
	assert.True(t, strings.HasPrefix(meta.Checksum, "sha256:"))
}

func TestBackupService_UploadFailure(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "fund")
	defer cleanup()

	store := newMemoryStore()
	store.uploadErr = errors.New("bucket unreachable")
	svc := NewBackupService(db, store, t.TempDir(), zerolog.Nop())

	_, err := svc.CreateAndUploadBackup(context.Background())
	assert.ErrorContains(t, err, "bucket unreachable")
}

func TestBackupService_ListAndRotate(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	for _, day := range []int{1, 5, 10, 20, 28, 29} {
		key := "fundsim-backup-" + time.Date(2024, 6, day, 3, 0, 0, 0, time.UTC).Format(backupTimestamp) + ".tar.gz"
		store.objects[key] = []byte("x")
	}
	store.objects["fundsim-backup-garbage.tar.gz"] = []byte("x")

	svc := NewBackupService(nil, store, t.TempDir(), zerolog.Nop())
	svc.now = func() time.Time { return now }

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 6)
	assert.Equal(t, 29, backups[0].Timestamp.Day(), "newest first")
	assert.Equal(t, int64(33), backups[0].AgeHours)

	// Retention 0 keeps everything
	deleted, err := svc.RotateOldBackups(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	// 10 days: June 1, 5 and 10 (03:00) are older than June 20 12:00, but the newest three are kept regardless
	deleted, err = svc.RotateOldBackups(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Len(t, store.keys(), 4) // three newest plus the unparseable object

	// Only the minimum remains: nothing more to delete even with a tiny retention
	deleted, err = svc.RotateOldBackups(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestMaintenanceJob(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "fund")
	defer cleanup()

	job := NewMaintenanceJob(db, t.TempDir(), zerolog.Nop())
	assert.Equal(t, "maintenance", job.Name())

	job.usage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 10 * 1024 * 1024 * 1024}, nil
	}
	assert.NoError(t, job.Run())

	job.usage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: 100 * 1024 * 1024}, nil
	}
	assert.ErrorContains(t, job.Run(), "100 MB free")

	job.usage = func(string) (*disk.UsageStat, error) { return nil, errors.New("no such device") }
	assert.Error(t, job.Run())
}

func TestBackupJob(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "fund")
	defer cleanup()

	store := newMemoryStore()
	job := NewBackupJob(NewBackupService(db, store, t.TempDir(), zerolog.Nop()), 30, zerolog.Nop())
	assert.Equal(t, "cloud_backup", job.Name())

	require.NoError(t, job.Run())
	assert.Len(t, store.keys(), 1)

	store.uploadErr = errors.New("denied")
	assert.Error(t, job.Run())
}

func TestNewS3Store(t *testing.T) {
	store, err := NewS3Store(context.Background(), config.BackupConfig{
		Bucket:    "fund-backups",
		Endpoint:  "http://127.0.0.1:9000",
		Region:    "auto",
		AccessKey: "key",
		SecretKey: "secret",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "fund-backups", store.bucket)
}
