package bolt

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"boost-service/internal/ledger"
	bolt "github.com/boltdb/bolt"
)

type TransactionStore struct {
	db *bolt.DB
}

func (s *TransactionStore) Insert(ctx context.Context, t *ledger.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transactionsBucket)
		if b.Get([]byte(t.ExternalTrxID)) != nil {
			return ledger.ErrDuplicateKey
		}

		t.Version = 1
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(t.ExternalTrxID), data)
	})
}

func (s *TransactionStore) Get(ctx context.Context, externalTrxID string) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var t ledger.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(transactionsBucket).Get([]byte(externalTrxID))
		if v == nil {
			return ledger.ErrNotFound
		}
		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TransactionStore) Update(ctx context.Context, externalTrxID string, mutate func(t *ledger.Transaction) (bool, error)) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var t ledger.Transaction
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transactionsBucket)
		v := b.Get([]byte(externalTrxID))
		if v == nil {
			return ledger.ErrNotFound
		}
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}

		changed, err := mutate(&t)
		if err != nil || !changed {
			return err
		}

		t.Version++
		data, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		return b.Put([]byte(externalTrxID), data)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TransactionStore) ListUnsettled(ctx context.Context, createdBefore time.Time, limit int) ([]*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []*ledger.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(transactionsBucket).ForEach(func(_, v []byte) error {
			var t ledger.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if !t.NotificationReceived && t.CreatedAt.Before(createdBefore) {
				items = append(items, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *TransactionStore) ListPaid(ctx context.Context, updatedAfter time.Time, limit int) ([]*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []*ledger.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(transactionsBucket).ForEach(func(_, v []byte) error {
			var t ledger.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.SuccessLeaning() && t.UpdatedAt.After(updatedAfter) {
				items = append(items, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
