package commands

import (
	"context"

	"vcmesh/config"
	"vcmesh/datastore/leveldb"

	log "github.com/sirupsen/logrus"
)

// RunHistory prints up to count journal records starting at sequence start. The
// journal is locked while a node is serving from it.
func RunHistory(ctx context.Context, cfg *config.Config, start uint64, count uint64) {
	if cfg.DataStore.JournalPath == "" {
		log.Fatal("Journal is disabled in the config")
	}
	journal, err := leveldb.NewJournal(cfg.DataStore.JournalPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer journal.Close()

	if start == 0 {
		start = 1
	}
	recs, err := journal.EnumerateBySeq(start, start+count)
	if err != nil {
		log.Errorf("Failed to enumerate journal: %v", err)
		return
	}

	log.Infof("Journal: %d message(s) delivered, showing %d", journal.GetSeq(), len(recs))
	for _, rec := range recs {
		log.Infof("#%d at %v: %s", rec.SequenceNumber, rec.DeliveredAt.Local(), rec.Message)
	}
}
