package floyd

import (
	"fmt"
	"path/filepath"

	"github.com/floydgo/floyd/floydpb"
	bolt "go.etcd.io/bbolt"
)

const (
	// dbFileName is the name of the database file
	dbFileName string = "floyd.db"
	// bucketKVName will be used to store applied key/value pairs
	bucketKVName string = "floyd_kv"
)

// StateMachine is the apply layer: committed Data entries land in a
// bolt bucket once the coordinator advances the commit index. Noop
// and Config entries are consumed without touching the bucket.
type StateMachine struct {
	dataDir string
	db      *bolt.DB
}

// NewStateMachine opens the database under dataDir.
func NewStateMachine(dataDir string) (*StateMachine, error) {
	if dataDir == "" {
		return nil, ErrDataDirRequired
	}
	dbdir := filepath.Join(dataDir, "db")
	if err := createDirectoryIfNotExist(dbdir, 0750); err != nil {
		return nil, fmt.Errorf("fail to create directory %s: %w", dbdir, err)
	}

	db, err := bolt.Open(filepath.Join(dbdir, dbFileName), 0600, nil)
	if err != nil {
		return nil, err
	}

	s := &StateMachine{dataDir: dataDir, db: db}
	if err := s.initializeBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// initializeBuckets will initialize all buckets required by the
// state machine
func (s *StateMachine) initializeBuckets() error {
	tx, err := s.db.Begin(true)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.CreateBucketIfNotExists([]byte(bucketKVName)); err != nil {
		return err
	}
	return tx.Commit()
}

// Apply writes the Data entries of a committed batch in one
// transaction.
func (s *StateMachine) Apply(entries []*floydpb.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketKVName))
		for _, entry := range entries {
			if entry.Type != floydpb.EntryData {
				continue
			}
			if err := bucket.Put(entry.Key, entry.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the applied value for key, ErrLogNotFound when absent.
func (s *StateMachine) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketKVName)).Get(key)
		if v == nil {
			return ErrLogNotFound
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	return value, err
}

// Close closes the underlying database.
func (s *StateMachine) Close() error {
	return s.db.Close()
}
