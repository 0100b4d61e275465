package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "unocoin-client/internal/errors"
)

const (
	addressBucketName = "addresses"
	tradeBucketName   = "trade_addresses"
)

// AddressStatus tracks an address through reservation.
type AddressStatus string

const (
	AddressFree     AddressStatus = "free"
	AddressPending  AddressStatus = "pending"
	AddressReserved AddressStatus = "reserved"
	AddressUsed     AddressStatus = "used"
)

// ErrNoFreeAddress is returned when every ledger address is taken.
var ErrNoFreeAddress = apperrors.New("no free receive address")

// AddressRecord is one receive address and who holds it.
type AddressRecord struct {
	Address      string        `json:"address"`
	AccountIndex int           `json:"account_index"`
	ReceiveIndex int           `json:"receive_index"`
	Status       AddressStatus `json:"status"`
	TradeID      int64         `json:"trade_id,omitempty"`
	TxHash       string        `json:"tx_hash,omitempty"`
	UpdatedAt    int64         `json:"updated_at"`
}

// Ledger is a bbolt-backed pool of receive addresses. A pending address was
// handed out for an order the exchange never confirmed, so it may be handed
// out again.
type Ledger struct {
	db *bolt.DB
}

// OpenLedger opens the ledger at path and adds any of addresses it does not
// know yet, in order, as account 0.
func OpenLedger(path string, addresses []string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir ledger path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(tradeBucketName)); err != nil {
			return err
		}
		b, err := tx.CreateBucketIfNotExists([]byte(addressBucketName))
		if err != nil {
			return err
		}
		next := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			next++
		}
		for _, addr := range addresses {
			if addr == "" || b.Get([]byte(addr)) != nil {
				continue
			}
			rec := AddressRecord{
				Address:      addr,
				ReceiveIndex: next,
				Status:       AddressFree,
				UpdatedAt:    time.Now().UnixMilli(),
			}
			next++
			if err := putRecord(b, &rec); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func putRecord(b *bolt.Bucket, rec *AddressRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Address), data)
}

func getRecord(b *bolt.Bucket, address string) (*AddressRecord, error) {
	data := b.Get([]byte(address))
	if len(data) == 0 {
		return nil, nil
	}
	var rec AddressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func tradeKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// Reserve marks the lowest-index free or pending address pending and
// returns it.
func (l *Ledger) Reserve() (AddressRecord, error) {
	var picked *AddressRecord
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(addressBucketName))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec AddressRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.Status != AddressFree && rec.Status != AddressPending {
				continue
			}
			if picked == nil || rec.AccountIndex < picked.AccountIndex ||
				(rec.AccountIndex == picked.AccountIndex && rec.ReceiveIndex < picked.ReceiveIndex) {
				r := rec
				picked = &r
			}
		}
		if picked == nil {
			return ErrNoFreeAddress
		}
		picked.Status = AddressPending
		picked.UpdatedAt = time.Now().UnixMilli()
		return putRecord(b, picked)
	})
	if err != nil {
		return AddressRecord{}, err
	}
	return *picked, nil
}

// Commit binds a pending address to a trade.
func (l *Ledger) Commit(address string, tradeID int64) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(addressBucketName))
		rec, err := getRecord(b, address)
		if err != nil {
			return err
		}
		if rec == nil {
			return apperrors.Wrapf(apperrors.ErrDataNotFound, "address %s", address)
		}
		rec.Status = AddressReserved
		rec.TradeID = tradeID
		rec.UpdatedAt = time.Now().UnixMilli()
		if err := putRecord(b, rec); err != nil {
			return err
		}
		return tx.Bucket([]byte(tradeBucketName)).Put(tradeKey(tradeID), []byte(address))
	})
}

// Release frees the address held by a trade. Releasing a trade without an
// address, or one already paid to, is a no-op.
func (l *Ledger) Release(tradeID int64) (bool, error) {
	released := false
	err := l.db.Update(func(tx *bolt.Tx) error {
		trades := tx.Bucket([]byte(tradeBucketName))
		addr := trades.Get(tradeKey(tradeID))
		if len(addr) == 0 {
			return nil
		}
		b := tx.Bucket([]byte(addressBucketName))
		rec, err := getRecord(b, string(addr))
		if err != nil {
			return err
		}
		if err := trades.Delete(tradeKey(tradeID)); err != nil {
			return err
		}
		if rec == nil || rec.Status == AddressUsed {
			return nil
		}
		rec.Status = AddressFree
		rec.TradeID = 0
		rec.UpdatedAt = time.Now().UnixMilli()
		released = true
		return putRecord(b, rec)
	})
	return released, err
}

// MarkUsed records that a payment arrived at address.
func (l *Ledger) MarkUsed(address, txHash string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(addressBucketName))
		rec, err := getRecord(b, address)
		if err != nil || rec == nil {
			return err
		}
		rec.Status = AddressUsed
		rec.TxHash = txHash
		rec.UpdatedAt = time.Now().UnixMilli()
		return putRecord(b, rec)
	})
}

// ByTrade returns the address bound to a trade.
func (l *Ledger) ByTrade(tradeID int64) (*AddressRecord, error) {
	var rec *AddressRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		addr := tx.Bucket([]byte(tradeBucketName)).Get(tradeKey(tradeID))
		if len(addr) == 0 {
			return nil
		}
		var err error
		rec, err = getRecord(tx.Bucket([]byte(addressBucketName)), string(addr))
		return err
	})
	return rec, err
}

// ByIndex returns the address at a wallet position.
func (l *Ledger) ByIndex(account, receive int) (*AddressRecord, error) {
	var rec *AddressRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(addressBucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r AddressRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.AccountIndex == account && r.ReceiveIndex == receive {
				rec = &r
				return nil
			}
		}
		return nil
	})
	return rec, err
}

// List returns every address in the ledger.
func (l *Ledger) List() ([]AddressRecord, error) {
	var results []AddressRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(addressBucketName)).ForEach(func(k, v []byte) error {
			var rec AddressRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			results = append(results, rec)
			return nil
		})
	})
	return results, err
}
