package leveldb

import (
	"fmt"
	"time"

	"vcmesh/datamodel/message"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixMsg = "MSG" // Delivered messages by local delivery sequence. Followed by a 16-digit hexadecimal sequence number (64 bit)
)

var _ message.Journal = (*Journal)(nil)

// Journal persists delivered messages in delivery order.
type Journal struct {
	LevelDB
	seq uint64
	now func() time.Time
}

func NewJournal(path string) (*Journal, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	// Scan the database to identify the sequence
	iter := ldb.NewIterator(util.BytesPrefix([]byte(keyPrefixMsg)), nil)
	defer iter.Release()

	var maxSeq uint64 = 0
	if iter.Last() {
		seq, err := seqFromKey(keyPrefixMsg, iter.Key())
		if err != nil {
			ldb.Close()
			return nil, err
		}
		maxSeq = seq
	}

	log.Debugf("Journal: %s holds %d message(s)", path, maxSeq)

	return &Journal{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
		seq: maxSeq,
		now: time.Now,
	}, nil
}

func (j *Journal) Append(msg *message.PeerMessage) (*message.Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := &message.Record{
		SequenceNumber: j.seq + 1,
		DeliveredAt:    j.now().UTC(),
		Message:        msg,
	}

	raw, err := cbor.Marshal(rec)
	if err != nil {
		return nil, err
	}

	if err := j.db.Put(keyFromSeq(keyPrefixMsg, rec.SequenceNumber), raw, nil); err != nil {
		return nil, err
	}

	// Keep the last sequence number
	j.seq = rec.SequenceNumber

	return rec, nil
}

func (j *Journal) GetBySeq(seq uint64) (*message.Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := j.db.Get(keyFromSeq(keyPrefixMsg, seq), nil)
	if err != nil {
		return nil, err
	}

	rec := &message.Record{}
	if err := cbor.Unmarshal(raw, rec); err != nil {
		return nil, err
	}

	// Compare the Sequence Number just in case
	if rec.SequenceNumber != seq {
		log.Errorf("GetBySeq: Sequence Number mismatch: %d != %d", seq, rec.SequenceNumber)
		return nil, ErrCorrupted
	}

	return rec, nil
}

func (j *Journal) EnumerateBySeq(start uint64, end uint64) ([]*message.Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if start > end {
		return nil, fmt.Errorf("EnumerateBySeq: invalid range: start (%d) > end (%d)", start, end)
	}

	var results []*message.Record

	iter := j.db.NewIterator(&util.Range{Start: keyFromSeq(keyPrefixMsg, start), Limit: keyFromSeq(keyPrefixMsg, end)}, nil)
	defer iter.Release()

	for iter.Next() {
		rec := &message.Record{}
		if err := cbor.Unmarshal(iter.Value(), rec); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}

	return results, iter.Error()
}

func (j *Journal) GetSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}
