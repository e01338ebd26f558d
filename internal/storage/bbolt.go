package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketPrincipals = "principals"
	bucketUsernames  = "usernames"
	bucketGroups     = "groups"
	bucketOperations = "operations"
	bucketAudit      = "audit"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/rtledger.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "rtledger.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPrincipals, bucketUsernames, bucketGroups, bucketOperations, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

func getRecord(tx *bolt.Tx, bucket, key string, v interface{}) error {
	raw := tx.Bucket([]byte(bucket)).Get([]byte(key))
	if raw == nil {
		return ErrNotFound
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", bucket, key, err)
	}
	return nil
}

func putRecord(tx *bolt.Tx, bucket, key string, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, key, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

// ---- Principals ------------------------------------------------------------

func (s *bboltStore) PutPrincipal(rec PrincipalRecord) error {
	if rec.ID == "" || rec.Username == "" {
		return fmt.Errorf("principal requires id and username")
	}
	username := strings.ToLower(rec.Username)
	return s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket([]byte(bucketUsernames))
		if owner := names.Get([]byte(username)); owner != nil && string(owner) != rec.ID {
			return fmt.Errorf("username %q already taken", rec.Username)
		}
		var prev PrincipalRecord
		if err := getRecord(tx, bucketPrincipals, rec.ID, &prev); err == nil && !strings.EqualFold(prev.Username, rec.Username) {
			if err := names.Delete([]byte(strings.ToLower(prev.Username))); err != nil {
				return err
			}
		}
		if err := names.Put([]byte(username), []byte(rec.ID)); err != nil {
			return err
		}
		return putRecord(tx, bucketPrincipals, rec.ID, rec)
	})
}

func (s *bboltStore) GetPrincipal(id string) (*PrincipalRecord, error) {
	var rec PrincipalRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, bucketPrincipals, id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *bboltStore) GetPrincipalByUsername(username string) (*PrincipalRecord, error) {
	var rec PrincipalRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(bucketUsernames)).Get([]byte(strings.ToLower(username)))
		if id == nil {
			return ErrNotFound
		}
		return getRecord(tx, bucketPrincipals, string(id), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *bboltStore) ListPrincipals() ([]PrincipalRecord, error) {
	var result []PrincipalRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPrincipals)).ForEach(func(k, v []byte) error {
			var rec PrincipalRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal principal %s: %w", k, err)
			}
			result = append(result, rec)
			return nil
		})
	})
	return result, err
}

// ---- Groups ----------------------------------------------------------------

func (s *bboltStore) PutGroup(rec GroupRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("group requires id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx, bucketGroups, rec.ID, rec)
	})
}

func (s *bboltStore) GetGroup(id string) (*GroupRecord, error) {
	var rec GroupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, bucketGroups, id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *bboltStore) ListGroups() ([]GroupRecord, error) {
	var result []GroupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGroups)).ForEach(func(k, v []byte) error {
			var rec GroupRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal group %s: %w", k, err)
			}
			result = append(result, rec)
			return nil
		})
	})
	return result, err
}

func (s *bboltStore) AddGroupMember(groupID, principalID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := getRecord(tx, bucketPrincipals, principalID, &PrincipalRecord{}); err != nil {
			return fmt.Errorf("principal %s: %w", principalID, err)
		}
		var rec GroupRecord
		if err := getRecord(tx, bucketGroups, groupID, &rec); err != nil {
			return fmt.Errorf("group %s: %w", groupID, err)
		}
		for _, m := range rec.Members {
			if m == principalID {
				return nil
			}
		}
		rec.Members = append(rec.Members, principalID)
		return putRecord(tx, bucketGroups, groupID, rec)
	})
}

func (s *bboltStore) RemoveGroupMember(groupID, principalID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var rec GroupRecord
		if err := getRecord(tx, bucketGroups, groupID, &rec); err != nil {
			return fmt.Errorf("group %s: %w", groupID, err)
		}
		kept := rec.Members[:0]
		for _, m := range rec.Members {
			if m != principalID {
				kept = append(kept, m)
			}
		}
		rec.Members = kept
		return putRecord(tx, bucketGroups, groupID, rec)
	})
}

func (s *bboltStore) GroupsFor(principalID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGroups)).ForEach(func(k, v []byte) error {
			var rec GroupRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return nil // skip corrupt entries
			}
			for _, m := range rec.Members {
				if m == principalID {
					ids = append(ids, rec.ID)
					break
				}
			}
			return nil
		})
	})
	sort.Strings(ids)
	return ids, err
}

// ---- Operations ------------------------------------------------------------

func (s *bboltStore) PutOperation(rec OperationRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("operation requires id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx, bucketOperations, rec.ID, rec)
	})
}

// groupLookup resolves groups inside tx, caching each decode for the life of the transaction.
func groupLookup(tx *bolt.Tx) func(id string) (GroupRecord, bool) {
	cache := make(map[string]*GroupRecord)
	return func(id string) (GroupRecord, bool) {
		if g, ok := cache[id]; ok {
			if g == nil {
				return GroupRecord{}, false
			}
			return *g, true
		}
		var rec GroupRecord
		if err := getRecord(tx, bucketGroups, id, &rec); err != nil {
			cache[id] = nil
			return GroupRecord{}, false
		}
		cache[id] = &rec
		return rec, true
	}
}

func (s *bboltStore) GetOperation(id string) (*OperationRecord, access.Operation, error) {
	var rec OperationRecord
	var view access.Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := getRecord(tx, bucketOperations, id, &rec); err != nil {
			return err
		}
		view = AccessView(rec, groupLookup(tx))
		return nil
	})
	if err != nil {
		return nil, access.Operation{}, err
	}
	return &rec, view, nil
}

// ListOperations evaluates filter against every record's access view. bbolt has no
// query planner, so this is the backend translation of the predicate tree.
func (s *bboltStore) ListOperations(filter access.Predicate) ([]OperationRecord, error) {
	var result []OperationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		lookup := groupLookup(tx)
		return tx.Bucket([]byte(bucketOperations)).ForEach(func(k, v []byte) error {
			var rec OperationRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal operation %s: %w", k, err)
			}
			if filter.IsTrue() || filter.Eval(AccessView(rec, lookup)) {
				result = append(result, rec)
			}
			return nil
		})
	})
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, err
}

func (s *bboltStore) DeleteOperation(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketOperations))
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// ---- Audit -----------------------------------------------------------------

func (s *bboltStore) AppendAudit(ev AuditEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAudit))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := msgpack.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal AuditEvent: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

func (s *bboltStore) ListAudit(limit int) ([]AuditEvent, error) {
	var result []AuditEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketAudit)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(result) >= limit {
				break
			}
			var ev AuditEvent
			if err := msgpack.Unmarshal(v, &ev); err != nil {
				continue // skip corrupt entries
			}
			result = append(result, ev)
		}
		return nil
	})
	return result, err
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(bucketOperations)) == nil {
			return fmt.Errorf("bucket %s missing", bucketOperations)
		}
		return nil
	})
}

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
