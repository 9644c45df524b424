// Package leveldb implements the message.Journal interface
package leveldb

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	log "github.com/sirupsen/logrus"
)

var ErrCorrupted = fmt.Errorf("corrupted")

type LevelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func keyFromSeq(prefix string, seq uint64) []byte {
	return append([]byte(prefix), []byte(fmt.Sprintf("%016x", seq))...)
}

func seqFromKey(prefix string, key []byte) (uint64, error) {
	if len(key) != len(prefix)+16 {
		return 0, fmt.Errorf("seqFromKey: invalid key length: %d", len(key))
	}
	if string(key[:len(prefix)]) != prefix {
		return 0, fmt.Errorf("seqFromKey: invalid key prefix: %s", string(key[:len(prefix)]))
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016x", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func initLevelDb(path string) (*leveldb.DB, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	// Open or create the new DB
	db, err := leveldb.OpenFile(path, opts)
	if errors.IsCorrupted(err) {
		log.Warnf("LevelDB at %s is corrupted, recovering", path)
		db, err = leveldb.RecoverFile(path, nil)
	}

	if err != nil {
		return nil, err
	}

	log.Infof("Opened LevelDB at %s", path)

	return db, nil
}

func (l *LevelDB) Path() string {
	return l.path
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
