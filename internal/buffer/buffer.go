// Package buffer holds labelled training samples awaiting the next online
// update pass. The buffer is a bounded FIFO: when full, the oldest sample is
// evicted and counted, never the newest.
package buffer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/metrics"
	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/persistence"
)

const journalPrefix = "buffer/"

type entry struct {
	seq    uint64
	sample models.TrainingSample
}

// TrainingBuffer is safe for concurrent use. Every accepted sample is also
// journaled to the repository so a restart resumes with the same backlog.
type TrainingBuffer struct {
	mu       sync.Mutex
	repo     persistence.Repository
	capacity int
	entries  []entry
	nextSeq  uint64
	dropped  int64
}

// New creates a buffer of the given capacity and replays any journaled
// backlog from a previous run.
func New(repo persistence.Repository, capacity int) (*TrainingBuffer, error) {
	b := &TrainingBuffer{repo: repo, capacity: capacity}

	err := repo.ScanPrefix(journalPrefix, func(key string, value []byte) error {
		seq, serr := strconv.ParseUint(strings.TrimPrefix(key, journalPrefix), 10, 64)
		if serr != nil {
			logger.S().Warnf("skipping malformed buffer journal key %q", key)
			return nil
		}
		var sample models.TrainingSample
		if jerr := json.Unmarshal(value, &sample); jerr != nil {
			logger.S().Warnf("skipping unreadable buffer journal entry %q: %v", key, jerr)
			return nil
		}
		b.entries = append(b.entries, entry{seq: seq, sample: sample})
		if seq >= b.nextSeq {
			b.nextSeq = seq + 1
		}
		return nil
	})
	if err != nil {
		return nil, models.WrapAppError(models.KindStorageError, err, "replaying buffer journal")
	}

	// Replay can exceed capacity if the config shrank between runs.
	for len(b.entries) > b.capacity {
		b.evictOldestLocked()
	}
	if len(b.entries) > 0 {
		logger.S().Infof("restored %d buffered training samples", len(b.entries))
	}
	return b, nil
}

func journalKey(seq uint64) string {
	return fmt.Sprintf(journalPrefix+"%020d", seq)
}

// Push appends a sample, evicting the oldest when the buffer is full. The
// journal write is best effort: a failed write is logged but the sample still
// lives in memory.
func (b *TrainingBuffer) Push(sample models.TrainingSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.capacity {
		b.evictOldestLocked()
		b.dropped++
		metrics.BufferDroppedTotal.Inc()
	}

	e := entry{seq: b.nextSeq, sample: sample}
	b.nextSeq++
	b.entries = append(b.entries, e)

	if err := b.repo.SetJSON(journalKey(e.seq), sample); err != nil {
		logger.S().Warnf("journaling training sample: %v", err)
	}
}

func (b *TrainingBuffer) evictOldestLocked() {
	if len(b.entries) == 0 {
		return
	}
	oldest := b.entries[0]
	b.entries = b.entries[1:]
	if err := b.repo.Delete(journalKey(oldest.seq)); err != nil {
		logger.S().Warnf("removing journaled sample: %v", err)
	}
}

// Drain removes and returns up to maxN samples, oldest first. maxN <= 0
// drains everything.
func (b *TrainingBuffer) Drain(maxN int) []models.TrainingSample {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.entries)
	if maxN > 0 && maxN < n {
		n = maxN
	}
	if n == 0 {
		return nil
	}

	out := make([]models.TrainingSample, n)
	for i := 0; i < n; i++ {
		out[i] = b.entries[i].sample
		if err := b.repo.Delete(journalKey(b.entries[i].seq)); err != nil {
			logger.S().Warnf("removing journaled sample: %v", err)
		}
	}
	b.entries = b.entries[n:]
	return out
}

// Size returns the number of buffered samples.
func (b *TrainingBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Status reports the buffer slice of /status.
func (b *TrainingBuffer) Status() models.BufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.BufferStatus{Size: len(b.entries), DroppedTotal: b.dropped}
}
