package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"spotify-lyrics-api-go/logcolors"
	"spotify-lyrics-api-go/utils"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const bucketName = "lyrics"

var errBucketMissing = errors.New("bucket not found")

// PersistentCache wraps BoltDB with an in-memory mirror for fast access.
// Entries carry their own expiry; expired entries read as misses and are
// removed by PurgeExpired.
type PersistentCache struct {
	db                 *bolt.DB
	mu                 sync.RWMutex // guards db across backup reopen
	memCache           sync.Map
	dbPath             string
	backupPath         string
	compressionEnabled bool
	now                func() time.Time
}

// CacheEntry is the stored form of a value (possibly compressed)
type CacheEntry struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expiresAt,omitempty"` // unix nanos, 0 = never
}

func (e CacheEntry) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixNano() > e.ExpiresAt
}

// NewPersistentCache opens (or creates) the cache database at dbPath
func NewPersistentCache(dbPath string, backupPath string, compressionEnabled bool) (*PersistentCache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	if info, err := os.Stat(dbPath); err == nil {
		log.Infof("%s Found existing database file at: %s (size: %d bytes)", logcolors.LogCacheInit, dbPath, info.Size())
	} else {
		log.Infof("%s Creating new database file at: %s", logcolors.LogCacheInit, dbPath)
	}

	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	pc := &PersistentCache{
		db:                 db,
		dbPath:             dbPath,
		backupPath:         backupPath,
		compressionEnabled: compressionEnabled,
		now:                time.Now,
	}

	if err := pc.loadToMemory(); err != nil {
		log.Warnf("%s Failed to preload cache to memory: %v", logcolors.LogCache, err)
	}

	log.Infof("%s Persistent cache initialized at %s (compression: %v)", logcolors.LogCache, dbPath, compressionEnabled)
	return pc, nil
}

func openDB(dbPath string) (*bolt.DB, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}
	return db, nil
}

// loadToMemory mirrors all unexpired disk entries into memory
func (pc *PersistentCache) loadToMemory() error {
	count := 0
	now := pc.now()
	err := pc.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				log.Warnf("%s Failed to unmarshal cache entry for key %s: %v", logcolors.LogCache, string(k), err)
				return nil
			}
			if entry.expired(now) {
				return nil
			}
			pc.memCache.Store(string(k), entry)
			count++
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Infof("%s Loaded %d entries from disk to memory", logcolors.LogCache, count)
	return nil
}

// Get returns the (decompressed) value for key. Expired entries are misses.
func (pc *PersistentCache) Get(key string) (string, bool) {
	entry, ok := pc.lookup(key)
	if !ok {
		return "", false
	}
	if entry.expired(pc.now()) {
		pc.memCache.Delete(key)
		return "", false
	}
	return pc.decode(key, entry.Value)
}

func (pc *PersistentCache) lookup(key string) (CacheEntry, bool) {
	if v, ok := pc.memCache.Load(key); ok {
		return v.(CacheEntry), true
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()

	var entry CacheEntry
	err := pc.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errBucketMissing
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("key not found")
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return CacheEntry{}, false
	}
	pc.memCache.Store(key, entry)
	return entry, true
}

func (pc *PersistentCache) decode(key, value string) (string, bool) {
	if !pc.compressionEnabled {
		return value, true
	}
	decompressed, err := utils.DecompressString(value)
	if err != nil {
		log.Errorf("%s Error decompressing cache value for key %s: %v", logcolors.LogCache, key, err)
		return "", false
	}
	return decompressed, true
}

// Set stores value under key in memory and on disk. A ttl <= 0 never expires.
func (pc *PersistentCache) Set(key, value string, ttl time.Duration) error {
	finalValue := value
	if pc.compressionEnabled {
		compressed, err := utils.CompressString(value)
		if err != nil {
			log.Errorf("%s Error compressing cache value for key %s: %v", logcolors.LogCache, key, err)
			return err
		}
		finalValue = compressed
	}

	entry := CacheEntry{Value: finalValue}
	if ttl > 0 {
		entry.ExpiresAt = pc.now().Add(ttl).UnixNano()
	}

	pc.memCache.Store(key, entry)

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errBucketMissing
		}
		return b.Put([]byte(key), data)
	})
}

// Delete removes a key from cache
func (pc *PersistentCache) Delete(key string) error {
	pc.memCache.Delete(key)

	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errBucketMissing
		}
		return b.Delete([]byte(key))
	})
}

// Clear removes all entries from cache
func (pc *PersistentCache) Clear() error {
	pc.memCache.Range(func(key, _ interface{}) bool {
		pc.memCache.Delete(key)
		return true
	})

	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

// PurgeExpired deletes expired entries and returns how many were removed
func (pc *PersistentCache) PurgeExpired() (int, error) {
	now := pc.now()
	var expired []string
	pc.memCache.Range(func(k, v interface{}) bool {
		if v.(CacheEntry).expired(now) {
			expired = append(expired, k.(string))
		}
		return true
	})

	for _, key := range expired {
		if err := pc.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// Range iterates over all cache entries in memory
func (pc *PersistentCache) Range(fn func(key string, entry CacheEntry) bool) {
	pc.memCache.Range(func(k, v interface{}) bool {
		return fn(k.(string), v.(CacheEntry))
	})
}

// Stats returns the number of keys and approximate stored size
func (pc *PersistentCache) Stats() (numKeys int, sizeInKB int) {
	size := 0
	pc.memCache.Range(func(k, v interface{}) bool {
		numKeys++
		size += len(k.(string)) + len(v.(CacheEntry).Value)
		return true
	})
	return numKeys, size / 1024
}

// Backup copies the database to a timestamped file in the backup directory.
// bbolt's Tx.WriteTo produces a consistent snapshot without closing the db.
func (pc *PersistentCache) Backup() (string, error) {
	name := fmt.Sprintf("cache_backup_%s.db", pc.now().Format("2006-01-02_15-04-05"))
	backupFilePath := filepath.Join(pc.backupPath, name)

	log.Infof("%s Creating backup at: %s", logcolors.LogCacheBackup, backupFilePath)

	f, err := os.Create(backupFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	pc.mu.RLock()
	err = pc.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(f)
		return err
	})
	pc.mu.RUnlock()
	if err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", err
	}

	log.Infof("%s Backup created successfully: %s", logcolors.LogCacheBackup, backupFilePath)
	return backupFilePath, nil
}

// BackupInfo contains metadata about a backup file
type BackupInfo struct {
	FileName  string    `json:"fileName"`
	Size      int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListBackups returns all .db files in the backup directory
func (pc *PersistentCache) ListBackups() ([]BackupInfo, error) {
	var backups []BackupInfo

	entries, err := os.ReadDir(pc.backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return backups, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			FileName:  entry.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	return backups, nil
}

// copyFile copies src to dst and syncs it
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// RestoreFromBackup replaces the live database with a backup file
func (pc *PersistentCache) RestoreFromBackup(backupFileName string) error {
	if filepath.Ext(backupFileName) != ".db" || filepath.Base(backupFileName) != backupFileName {
		return fmt.Errorf("invalid backup file: %s", backupFileName)
	}
	src := filepath.Join(pc.backupPath, backupFileName)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("backup file not found: %s", backupFileName)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if err := pc.db.Close(); err != nil {
		return fmt.Errorf("failed to close current database: %w", err)
	}
	copyErr := copyFile(src, pc.dbPath)

	db, err := openDB(pc.dbPath)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}
	pc.db = db
	if copyErr != nil {
		return fmt.Errorf("failed to restore backup: %w", copyErr)
	}

	pc.memCache.Range(func(key, _ interface{}) bool {
		pc.memCache.Delete(key)
		return true
	})
	if err := pc.loadToMemory(); err != nil {
		log.Warnf("%s Failed to reload cache to memory: %v", logcolors.LogCache, err)
	}
	log.Infof("%s Restored from backup: %s", logcolors.LogCacheBackup, backupFileName)
	return nil
}

// Close closes the database connection
func (pc *PersistentCache) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.db != nil {
		return pc.db.Close()
	}
	return nil
}
