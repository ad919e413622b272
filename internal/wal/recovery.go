package wal

import (
	"sort"

	"github.com/kartikbazzad/docdb/internal/config"
	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/logger"
)

// Applier is the replay target for recovery: the document store and index
// manager, applied through their normal mutation hooks so indexes stay
// consistent with the reconstructed documents.
type Applier interface {
	ApplyInsert(collection, docID string, after []byte) error
	ApplyUpdate(collection, docID string, after []byte) error
	ApplyDelete(collection, docID string) error
}

type txState struct {
	committed bool
	rolledBack bool
	ops       []*Record
}

// RecoveryResult summarizes a completed recovery pass.
type RecoveryResult struct {
	LastLSN         uint64
	RecordsApplied  int
	RecordsSkipped  int
	SegmentsScanned int
}

// Recover replays dir's segments per spec.md §4.5: load the last
// checkpoint, scan every segment, group records by transaction, and for
// every transaction that reached a commit record, apply its
// insert/update/delete ops (in LSN order, across all committed
// transactions) whose LSN is past the checkpoint floor. Transactions with
// no commit or rollback record at end-of-log are treated as aborted and
// never applied.
func Recover(dir string, allowSkipCorrupt bool, applier Applier, log *logger.Logger) (*RecoveryResult, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.F("component", "wal.recovery"))

	cm := NewCheckpointManager(config.CheckpointConfig{}, log)
	if err := cm.Load(dir); err != nil {
		log.Warn("failed to load checkpoint: %v", err)
	}
	floor := cm.MinRequiredLSN()

	paths, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	txs := make(map[uint64]*txState)
	var lastLSN uint64
	result := &RecoveryResult{}

	for _, path := range paths {
		result.SegmentsScanned++
		if err := replaySegment(path, allowSkipCorrupt, txs, &lastLSN, result, log); err != nil {
			return result, err
		}
	}

	var committed []*Record
	for _, st := range txs {
		if st.committed {
			committed = append(committed, st.ops...)
		}
	}
	sort.Slice(committed, func(i, j int) bool { return committed[i].LSN < committed[j].LSN })

	for _, rec := range committed {
		if rec.LSN <= floor {
			continue
		}
		if err := applyRecord(applier, rec); err != nil {
			return result, err
		}
		result.RecordsApplied++
	}

	result.LastLSN = lastLSN
	return result, nil
}

func replaySegment(path string, allowSkipCorrupt bool, txs map[uint64]*txState, lastLSN *uint64, result *RecoveryResult, log *logger.Logger) error {
	r := NewReader(path)
	if err := r.Open(); err != nil {
		return err
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if err != nil {
			if err == ErrCRCMismatch {
				log.Warn("crc mismatch in %s, skipping record", path)
				result.RecordsSkipped++
				continue
			}
			log.Warn("corrupt framing in %s: %v", path, err)
			if allowSkipCorrupt {
				return nil
			}
			return errors.CorruptedLog(err.Error())
		}
		if rec == nil {
			return nil
		}

		if rec.LSN > *lastLSN {
			*lastLSN = rec.LSN
		}

		st := txs[rec.TxID]
		if st == nil {
			st = &txState{}
			txs[rec.TxID] = st
		}

		switch rec.Kind {
		case KindCommit:
			st.committed = true
		case KindRollback:
			st.rolledBack = true
		case KindInsert, KindUpdate, KindDelete:
			st.ops = append(st.ops, rec)
		case KindBegin, KindCheckpoint:
			// no replay action
		}
	}
}

func applyRecord(applier Applier, rec *Record) error {
	switch rec.Kind {
	case KindInsert:
		return applier.ApplyInsert(rec.Body.Collection, rec.Body.DocID, rec.Body.AfterImage)
	case KindUpdate:
		return applier.ApplyUpdate(rec.Body.Collection, rec.Body.DocID, rec.Body.AfterImage)
	case KindDelete:
		return applier.ApplyDelete(rec.Body.Collection, rec.Body.DocID)
	}
	return nil
}
