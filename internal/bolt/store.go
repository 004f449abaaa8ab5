// Package bolt provides embedded BoltDB implementations of the ledger and
// boost request stores. Every write runs inside a single bolt read-write
// transaction, which bolt serializes, so read-modify-write is atomic.
package bolt

import (
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var (
	transactionsBucket   = []byte("transactions")
	boostRequestsBucket  = []byte("boost_requests")
	boostByPaymentBucket = []byte("boost_requests_by_payment")
)

type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the database file at path and ensures all buckets exist.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt database %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{transactionsBucket, boostRequestsBucket, boostByPaymentBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating buckets")
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Transactions() *TransactionStore {
	return &TransactionStore{db: d.db}
}

func (d *DB) BoostRequests() *BoostRequestStore {
	return &BoostRequestStore{db: d.db}
}
