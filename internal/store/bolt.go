package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bolt stores each board in its own bucket with big-endian sequence keys,
// so cursor order is sequence order. Ban records live in a nested bucket of
// the board's bucket.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

var bansBucket = []byte("bans")

func seqKey(seq uint16) []byte {
	k := make([]byte, 2)
	binary.BigEndian.PutUint16(k, seq)
	return k
}

func (b *Bolt) Put(ctx context.Context, board string, seq uint16, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists([]byte(board))
		if err != nil {
			return err
		}
		return bk.Put(seqKey(seq), data)
	})
}

func (b *Bolt) Scan(ctx context.Context, board string, fn func(seq uint16, data []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(board))
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(k) != 2 {
				return nil
			}
			// v is only valid inside the transaction
			return fn(binary.BigEndian.Uint16(k), slices.Clone(v))
		})
	})
}

func (b *Bolt) Boards(ctx context.Context) ([]string, error) {
	var out []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	return out, err
}

func (b *Bolt) PutBan(ctx context.Context, board string, ban BanRecord) error {
	v, err := json.Marshal(ban)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists([]byte(board))
		if err != nil {
			return err
		}
		bans, err := bk.CreateBucketIfNotExists(bansBucket)
		if err != nil {
			return err
		}
		id, err := bans.NextSequence()
		if err != nil {
			return err
		}
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, id)
		return bans.Put(k, v)
	})
}

func (b *Bolt) Bans(ctx context.Context, board string) ([]BanRecord, error) {
	var out []BanRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(board))
		if bk == nil {
			return nil
		}
		bans := bk.Bucket(bansBucket)
		if bans == nil {
			return nil
		}
		return bans.ForEach(func(_, v []byte) error {
			var rec BanRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode ban: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (b *Bolt) Close() error { return b.db.Close() }
