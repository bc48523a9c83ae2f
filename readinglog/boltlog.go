package readinglog

import (
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/plugmon/plugstat"
	"github.com/rogpeppe/plugmon/readinglog/internal/readinglogpb"
)

var readingBucket = []byte("reading")

// BoltLog is a Log that stores readings in a bolt database.
// Each reading is keyed by its position in the log, so
// iteration order is arrival order regardless of timestamps.
type BoltLog struct {
	db *bolt.DB
}

var _ Log = (*BoltLog)(nil)

// OpenBolt opens the bolt reading log at the given path,
// creating it if necessary.
func OpenBolt(path string) (*BoltLog, error) {
	db, err := bolt.Open(path, 0666, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errgo.Notef(err, "cannot open reading database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(readingBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errgo.Notef(err, "cannot create reading bucket")
	}
	return &BoltLog{
		db: db,
	}, nil
}

// Append implements Log.Append.
func (l *BoltLog) Append(r plugstat.Reading) error {
	val, err := (&readinglogpb.Record{
		Timestamp: r.Time.UnixNano(),
		Power:     r.Power,
		Voltage:   r.Voltage,
		Current:   r.Current,
	}).MarshalBinary()
	if err != nil {
		return errgo.Notef(err, "cannot marshal reading")
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(readingBucket)
		if b == nil {
			return errgo.Newf("no reading bucket")
		}
		// Keys only ever increase.
		b.FillPercent = 1
		seq, err := b.NextSequence()
		if err != nil {
			return errgo.Mask(err)
		}
		return b.Put(seqKey(seq), val)
	})
	return errgo.Mask(err)
}

// ReadAll implements Log.ReadAll.
func (l *BoltLog) ReadAll() ([]plugstat.Reading, error) {
	var rs []plugstat.Reading
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(readingBucket)
		if b == nil {
			return errgo.Newf("no reading bucket")
		}
		rs = make([]plugstat.Reading, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var rec readinglogpb.Record
			if err := rec.UnmarshalBinary(v); err != nil {
				return errgo.Notef(err, "cannot unmarshal reading %x", k)
			}
			rs = append(rs, plugstat.Reading{
				Time:    time.Unix(0, rec.Timestamp),
				Power:   rec.Power,
				Voltage: rec.Voltage,
				Current: rec.Current,
			})
			return nil
		})
	})
	if err != nil {
		return nil, errgo.Mask(err)
	}
	return rs, nil
}

// Close implements Log.Close.
func (l *BoltLog) Close() error {
	return errgo.Mask(l.db.Close())
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
