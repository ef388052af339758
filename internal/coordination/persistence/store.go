// Package persistence is the shared BoltDB-backed store used by the
// background executor (task state survives restarts) and the workflow
// orchestrator (workflow definitions and checkpoints). It follows the
// teacher's WorkflowStore: one bbolt.DB, one bucket per record kind, a hot
// in-memory cache in front of reads.
package persistence

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketTasks       = []byte("tasks")
	bucketAggregate   = []byte("aggregate")
	bucketWorkflows   = []byte("workflows")
	bucketCheckpoints = []byte("checkpoints")
	bucketVersions    = []byte("versions")
	bucketExecutions  = []byte("executions")
)

// Store is the on-disk persistence layer. Pure Go, no cgo dependency — the
// same reason the teacher picked BoltDB over RocksDB.
type Store struct {
	db *bbolt.DB

	mu         sync.RWMutex
	taskCache  map[string][]byte
	maxCache   int
}

// Open creates or opens the database file at path and ensures every bucket
// this package needs exists.
func Open(path string) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		NoSync:       false,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketAggregate, bucketWorkflows, bucketCheckpoints, bucketVersions, bucketExecutions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db, taskCache: make(map[string][]byte), maxCache: 1000}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutTask writes a task's state, keyed by id — called on every transition
// per the spec's "per-task file on every transition" requirement, here as a
// per-task key in the tasks bucket instead of a filesystem file.
func (s *Store) PutTask(id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", id, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte(id), data)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cacheLocked(id, data)
	s.mu.Unlock()
	return nil
}

func (s *Store) cacheLocked(id string, data []byte) {
	if len(s.taskCache) >= s.maxCache {
		for k := range s.taskCache {
			delete(s.taskCache, k)
			break
		}
	}
	s.taskCache[id] = data
}

// GetTask loads a single task's last persisted state.
func (s *Store) GetTask(id string, out interface{}) (bool, error) {
	s.mu.RLock()
	if data, ok := s.taskCache[id]; ok {
		s.mu.RUnlock()
		return true, json.Unmarshal(data, out)
	}
	s.mu.RUnlock()

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketTasks).Get([]byte(id))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

// DeleteTask removes a task's persisted state, e.g. once it is pruned past
// the retention window.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	delete(s.taskCache, id)
	s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// AllTasks returns every persisted task's raw JSON, for startup recovery.
func (s *Store) AllTasks() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

// PutAggregate writes the single {tasks, queue, metrics, timestamp}
// shutdown snapshot under key.
func (s *Store) PutAggregate(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal aggregate %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAggregate).Put([]byte(key), data)
	})
}

// GetAggregate loads the shutdown snapshot back on startup.
func (s *Store) GetAggregate(key string, out interface{}) (bool, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAggregate).Get([]byte(key))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return false, err
	}
	return true, json.Unmarshal(data, out)
}

// PutWorkflow stores a workflow definition, incrementing its version
// counter in bucketVersions (spec-supplemented "workflow/task versioning").
func (s *Store) PutWorkflow(id string, v interface{}) (version int, err error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal workflow %s: %w", id, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		versions := tx.Bucket(bucketVersions)
		cur := versions.Get([]byte(id))
		version = 1
		if cur != nil {
			var v int
			if err := json.Unmarshal(cur, &v); err == nil {
				version = v + 1
			}
		}
		vb, _ := json.Marshal(version)
		if err := versions.Put([]byte(id), vb); err != nil {
			return err
		}
		return tx.Bucket(bucketWorkflows).Put([]byte(id), data)
	})
	return version, err
}

func (s *Store) GetWorkflow(id string, out interface{}) (bool, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketWorkflows).Get([]byte(id))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return false, err
	}
	return true, json.Unmarshal(data, out)
}

// PutCheckpoint stores a workflow execution checkpoint, keyed by
// "<workflowID>/<step>".
func (s *Store) PutCheckpoint(workflowID string, step int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	key := fmt.Sprintf("%s/%08d", workflowID, step)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put([]byte(key), data)
	})
}

// LatestCheckpoint returns the highest-step checkpoint recorded for a
// workflow, for resuming after a restart.
func (s *Store) LatestCheckpoint(workflowID string, out interface{}) (bool, error) {
	prefix := []byte(workflowID + "/")
	var latest []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCheckpoints).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			latest = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || latest == nil {
		return false, err
	}
	return true, json.Unmarshal(latest, out)
}

// GetWorkflowVersion returns the current version counter for a workflow
// definition, for callers that want to detect concurrent redefinition.
func (s *Store) GetWorkflowVersion(id string) (int, error) {
	var version int
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketVersions).Get([]byte(id))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &version)
	})
	return version, err
}

// PutExecution records one workflow execution's terminal or in-progress
// state, keyed by "<workflowID>/<executionID>" so ListExecutions can
// enumerate a workflow's run history (spec-supplemented "execution
// history", adapted from the teacher's time-indexed execution listing).
func (s *Store) PutExecution(workflowID, executionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal execution %s: %w", executionID, err)
	}
	key := []byte(workflowID + "/" + executionID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketExecutions).Put(key, data)
	})
}

// ListExecutions returns the raw JSON of every recorded execution for a
// workflow, in bytewise executionID order (bbolt's key order), not in
// insertion order.
func (s *Store) ListExecutions(workflowID string) ([][]byte, error) {
	prefix := []byte(workflowID + "/")
	var out [][]byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketExecutions).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, append([]byte(nil), v...))
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
