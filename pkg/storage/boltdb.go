package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/conclave-io/conclave/pkg/types"
)

var (
	// Bucket names
	bucketNodes    = []byte("nodes")
	bucketTasks    = []byte("tasks")
	bucketResults  = []byte("results")
	bucketCounters = []byte("counters")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the coordinator database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "conclave.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketNodes, bucketTasks, bucketResults, bucketCounters}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
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

// Node operations

func (s *BoltStore) SaveNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// Task operations

func (s *BoltStore) SaveTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.Delete([]byte(id))
	})
}

// Aggregated result operations

func (s *BoltStore) SaveResult(result *types.AggregatedResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults)
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put([]byte(result.TaskID), data)
	})
}

func (s *BoltStore) GetResult(taskID string) (*types.AggregatedResult, error) {
	var result types.AggregatedResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults)
		data := b.Get([]byte(taskID))
		if data == nil {
			return fmt.Errorf("result for task %s: %w", taskID, types.ErrNotFound)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Counter operations

func (s *BoltStore) IncrCounter(name string, delta int64) (int64, error) {
	var value int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		value = decodeCounter(b.Get([]byte(name))) + delta
		return b.Put([]byte(name), encodeCounter(value))
	})
	return value, err
}

func (s *BoltStore) GetCounter(name string) (int64, error) {
	var value int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		value = decodeCounter(b.Get([]byte(name)))
		return nil
	})
	return value, err
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeCounter(data []byte) int64 {
	if len(data) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(data))
}
