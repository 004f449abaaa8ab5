package bolt

import (
	"context"
	"encoding/json"
	"sort"

	"boost-service/internal/boost"
	bolt "github.com/boltdb/bolt"
)

type BoostRequestStore struct {
	db *bolt.DB
}

func (s *BoostRequestStore) CreateIfAbsent(ctx context.Context, r *boost.BoostRequest) (*boost.BoostRequest, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var result boost.BoostRequest
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		requests := tx.Bucket(boostRequestsBucket)
		byPayment := tx.Bucket(boostByPaymentBucket)

		if id := byPayment.Get([]byte(r.PaymentID)); id != nil {
			return json.Unmarshal(requests.Get(id), &result)
		}

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := requests.Put([]byte(r.ID), data); err != nil {
			return err
		}
		if err := byPayment.Put([]byte(r.PaymentID), []byte(r.ID)); err != nil {
			return err
		}

		result = *r
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

func (s *BoostRequestStore) Get(ctx context.Context, id string) (*boost.BoostRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var r boost.BoostRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boostRequestsBucket).Get([]byte(id))
		if v == nil {
			return boost.ErrNotFound
		}
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoostRequestStore) GetByPaymentID(ctx context.Context, paymentID string) (*boost.BoostRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var r boost.BoostRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(boostByPaymentBucket).Get([]byte(paymentID))
		if id == nil {
			return boost.ErrNotFound
		}
		return json.Unmarshal(tx.Bucket(boostRequestsBucket).Get(id), &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoostRequestStore) Update(ctx context.Context, id string, mutate func(r *boost.BoostRequest) (bool, error)) (*boost.BoostRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var r boost.BoostRequest
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boostRequestsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return boost.ErrNotFound
		}
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}

		changed, err := mutate(&r)
		if err != nil || !changed {
			return err
		}

		data, err := json.Marshal(&r)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoostRequestStore) List(ctx context.Context, status boost.Status, limit int) ([]*boost.BoostRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := []*boost.BoostRequest{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boostRequestsBucket).ForEach(func(_, v []byte) error {
			var r boost.BoostRequest
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if status == "" || r.Status == status {
				items = append(items, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].RequestedAt.Before(items[j].RequestedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
