// Package model defines the capability interfaces a model backend implements
// and the registry that resolves a bundle's declared backend to a factory.
package model

import (
	"context"
	"fmt"
	"slices"
	"sync"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
)

// Row is one named-column record from a data source.
type Row map[string]any

// Batch holds column-major values keyed by column name.
type Batch map[string][]any

// DataSource serves indexed rows. It must be stable for one training run.
type DataSource interface {
	Keys() []string
	Count() int
	Item(index int) (Row, error)
}

type Model interface {
	Load() error
	Unload() error
	Loaded() bool
	Run(ctx context.Context, input Batch) (Batch, error)
}

// Trainable is a Model that can take a training step and write its state
// back out as a bundle file set.
type Trainable interface {
	Model
	Train(ctx context.Context, batch Batch, placeholders map[string]any) (Batch, error)
	Export(dir string) error
}

// Spec is what a factory gets from an installed bundle.
type Spec struct {
	Path     string
	File     string
	Inputs   []string
	Outputs  []string
	Manifest map[string]any
}

type Factory func(spec Spec) (Model, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register binds backend to f, replacing any previous binding.
func Register(backend string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	factories[backend] = f
}

func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// New builds a model for backend.
func New(backend string, spec Spec) (Model, error) {
	mu.RLock()
	f, ok := factories[backend]
	mu.RUnlock()

	if !ok {
		return nil, pkgerrors.New(pkgerrors.KindBundle, "new model", fmt.Sprintf("unknown backend %q", backend))
	}

	return f(spec)
}

// NewBatch assembles rows into a batch keyed by keys. Missing columns become
// nil entries so every column has len(rows) values.
func NewBatch(keys []string, rows []Row) Batch {
	b := make(Batch, len(keys))
	for _, k := range keys {
		col := make([]any, len(rows))
		for i, r := range rows {
			col[i] = r[k]
		}
		b[k] = col
	}

	return b
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	for _, col := range b {
		return len(col)
	}

	return 0
}
