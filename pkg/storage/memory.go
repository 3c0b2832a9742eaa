package storage

import (
	"context"
	"slices"
	"sync"
)

var _ Journal = (*memoryJournal)(nil)

type memoryJournal struct {
	mu   sync.Mutex
	runs []Run
}

func NewInMemory() Journal {
	return &memoryJournal{}
}

func (j *memoryJournal) Record(_ context.Context, run Run) error {
	if err := validate(run); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.runs = append(j.runs, run)

	return nil
}

func (j *memoryJournal) Attempts(_ context.Context, taskID string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var n int
	for _, r := range j.runs {
		if r.TaskID == taskID {
			n++
		}
	}

	return n, nil
}

func (j *memoryJournal) List(_ context.Context, offset, limit uint64) ([]Run, uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	total := uint64(len(j.runs))
	if offset >= total {
		return []Run{}, total, nil
	}

	newest := slices.Clone(j.runs)
	slices.Reverse(newest)

	end := min(offset+limit, total)

	return newest[offset:end], total, nil
}

func (j *memoryJournal) Close() error {
	return nil
}
