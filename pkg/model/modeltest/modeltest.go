// Package modeltest provides counting doubles for models and data sources.
package modeltest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/absmach/fedlet/pkg/model"
)

var _ model.Trainable = (*Trainable)(nil)

// Trainable records every call made to it. TrainErr, when set, is returned
// from the Nth Train call (1 based) given by FailAt, or every call when
// FailAt is zero.
type Trainable struct {
	TrainErr error
	FailAt   int

	mu         sync.Mutex
	loaded     bool
	trainCalls int
	exports    int
	batchSizes []int
	batches    []model.Batch
}

func (m *Trainable) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loaded = true

	return nil
}

func (m *Trainable) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loaded = false

	return nil
}

func (m *Trainable) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.loaded
}

func (m *Trainable) Run(_ context.Context, input model.Batch) (model.Batch, error) {
	return input, nil
}

func (m *Trainable) Train(_ context.Context, batch model.Batch, _ map[string]any) (model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trainCalls++
	m.batchSizes = append(m.batchSizes, batch.Len())
	m.batches = append(m.batches, batch)

	if m.TrainErr != nil && (m.FailAt == 0 || m.FailAt == m.trainCalls) {
		return nil, m.TrainErr
	}

	return model.Batch{"loss": {float64(m.trainCalls)}}, nil
}

// Export writes a marker file into dir.
func (m *Trainable) Export(dir string) error {
	m.mu.Lock()
	m.exports++
	n := m.trainCalls
	m.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "export.txt"), fmt.Appendf(nil, "train calls: %d\n", n), 0o644)
}

func (m *Trainable) TrainCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.trainCalls
}

func (m *Trainable) Exports() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.exports
}

func (m *Trainable) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]int(nil), m.batchSizes...)
}

func (m *Trainable) Batches() []model.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]model.Batch(nil), m.batches...)
}

var _ model.DataSource = (*DataSource)(nil)

// DataSource serves N rows {"index": i, "x": i, "y": 2i+1} and counts
// accesses per index in call order.
type DataSource struct {
	N int

	mu     sync.Mutex
	counts map[int]int
	order  []int
}

func NewDataSource(n int) *DataSource {
	return &DataSource{N: n, counts: map[int]int{}}
}

func (d *DataSource) Keys() []string {
	return []string{"index", "x", "y"}
}

func (d *DataSource) Count() int {
	return d.N
}

func (d *DataSource) Item(index int) (model.Row, error) {
	if index < 0 || index >= d.N {
		return nil, fmt.Errorf("index %d out of range", index)
	}

	d.mu.Lock()
	d.counts[index]++
	d.order = append(d.order, index)
	d.mu.Unlock()

	return model.Row{"index": index, "x": float64(index), "y": float64(2*index + 1)}, nil
}

// Fetches returns the total number of Item calls.
func (d *DataSource) Fetches() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.order)
}

func (d *DataSource) CountFor(index int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.counts[index]
}

// Order returns every fetched index in call order.
func (d *DataSource) Order() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]int(nil), d.order...)
}
