package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/metrics"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketPersist = []byte("persist")
)

// DBFile is the journal file name inside the data directory
const DBFile = "paramd.db"

// BoltStore implements ParamStore using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the journal in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPersist); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketPersist, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Save(name, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPersist)
		data, err := json.Marshal(Record{Value: value, UpdatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}

func (s *BoltStore) Get(name string) (Record, bool, error) {
	var rec Record
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPersist).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

func (s *BoltStore) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPersist).Delete([]byte(name))
	})
}

func (s *BoltStore) ForEach(fn func(name string, rec Record) error) error {
	logger := log.WithComponent("storage")
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPersist).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				logger.Warn().Err(err).Str("param", string(k)).Msg("skipping corrupt persist record")
				metrics.PersistRecordsSkipped.Inc()
				continue
			}
			if err := fn(string(k), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Backup writes a consistent copy of the journal to w
func (s *BoltStore) Backup(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}
