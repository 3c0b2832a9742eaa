// Package linear is a pure-Go linear regression backend trained by
// mini-batch gradient descent. Weights are stored as CBOR in the bundle's
// model file.
package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/model"
	"github.com/fxamacker/cbor/v2"
)

const (
	Backend = "linear"

	defaultLearningRate = 0.01
	learningRateKey     = "learning_rate"
	lossColumn          = "loss"
)

var _ model.Trainable = (*Model)(nil)

// State is the persisted form of the model.
type State struct {
	Features []string  `cbor:"features"`
	Target   string    `cbor:"target"`
	Weights  []float64 `cbor:"weights"`
	Bias     float64   `cbor:"bias"`
	Steps    uint64    `cbor:"steps"`
}

type Model struct {
	spec  model.Spec
	mu    sync.Mutex
	state *State
}

func New(spec model.Spec) (model.Model, error) {
	if spec.File == "" {
		return nil, pkgerrors.New(pkgerrors.KindBundle, "new linear model", "missing model file")
	}
	if len(spec.Outputs) != 1 {
		return nil, pkgerrors.New(pkgerrors.KindBundle, "new linear model", "exactly one output layer is required")
	}

	return &Model{spec: spec}, nil
}

// WriteState stores s at path.
func WriteState(path string, s State) error {
	data, err := cbor.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func (m *Model) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(m.spec.Path, m.spec.File))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.KindBundle, "load linear model", err)
	}

	var s State
	if err := cbor.Unmarshal(data, &s); err != nil {
		return pkgerrors.Wrapf(pkgerrors.KindBundle, "load linear model", err, "malformed weights: %v", err)
	}
	if len(s.Features) == 0 {
		s.Features = m.spec.Inputs
	}
	if s.Target == "" {
		s.Target = m.spec.Outputs[0]
	}
	if len(s.Weights) == 0 {
		s.Weights = make([]float64, len(s.Features))
	}
	if len(s.Weights) != len(s.Features) {
		return pkgerrors.New(pkgerrors.KindBundle, "load linear model",
			fmt.Sprintf("%d weights for %d features", len(s.Weights), len(s.Features)))
	}

	m.state = &s

	return nil
}

func (m *Model) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = nil

	return nil
}

func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state != nil
}

// State returns a copy of the current parameters.
func (m *Model) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return State{}, errNotLoaded
	}
	s := *m.state
	s.Weights = append([]float64(nil), m.state.Weights...)

	return s, nil
}

var errNotLoaded = pkgerrors.New(pkgerrors.KindTraining, "linear model", "model is not loaded")

func (m *Model) Run(_ context.Context, input model.Batch) (model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil, errNotLoaded
	}

	n := input.Len()
	out := make([]any, n)
	for i := range n {
		x, err := m.features(input, i)
		if err != nil {
			return nil, err
		}
		out[i] = m.predict(x)
	}

	return model.Batch{m.state.Target: out}, nil
}

// Train takes one gradient step over the rows of batch that carry a target
// and returns the batch mean squared error before the step.
func (m *Model) Train(ctx context.Context, batch model.Batch, placeholders map[string]any) (model.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil, errNotLoaded
	}

	lr := defaultLearningRate
	if v, ok := placeholders[learningRateKey]; ok {
		f, err := toFloat(v)
		if err != nil || f <= 0 {
			return nil, pkgerrors.New(pkgerrors.KindTraining, "train linear model", "invalid learning_rate placeholder")
		}
		lr = f
	}

	targets := batch[m.state.Target]
	gradW := make([]float64, len(m.state.Weights))
	var (
		gradB, loss float64
		used        int
	)
	for i := range batch.Len() {
		if i >= len(targets) || targets[i] == nil {
			continue
		}
		y, err := toFloat(targets[i])
		if err != nil {
			return nil, pkgerrors.Wrapf(pkgerrors.KindTraining, "train linear model", err, "column %q row %d: %v", m.state.Target, i, err)
		}
		x, err := m.features(batch, i)
		if err != nil {
			return nil, err
		}

		diff := m.predict(x) - y
		loss += diff * diff
		for j, xj := range x {
			gradW[j] += diff * xj
		}
		gradB += diff
		used++
	}

	if used == 0 {
		return model.Batch{lossColumn: {0.0}}, nil
	}

	scale := 2 * lr / float64(used)
	for j := range m.state.Weights {
		m.state.Weights[j] -= scale * gradW[j]
	}
	m.state.Bias -= scale * gradB
	m.state.Steps++

	mse := loss / float64(used)
	if math.IsNaN(mse) || math.IsInf(mse, 0) {
		return nil, pkgerrors.New(pkgerrors.KindTraining, "train linear model", "loss diverged")
	}

	return model.Batch{lossColumn: {mse}}, nil
}

// Export writes the current weights into dir under the bundle's model file
// name.
func (m *Model) Export(dir string) error {
	s, err := m.State()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return WriteState(filepath.Join(dir, m.spec.File), s)
}

func (m *Model) predict(x []float64) float64 {
	y := m.state.Bias
	for j, w := range m.state.Weights {
		y += w * x[j]
	}

	return y
}

func (m *Model) features(b model.Batch, row int) ([]float64, error) {
	x := make([]float64, len(m.state.Features))
	for j, name := range m.state.Features {
		col, ok := b[name]
		if !ok || row >= len(col) {
			return nil, pkgerrors.New(pkgerrors.KindTraining, "linear model", fmt.Sprintf("missing feature %q", name))
		}
		f, err := toFloat(col[row])
		if err != nil {
			return nil, pkgerrors.Wrapf(pkgerrors.KindTraining, "linear model", err, "feature %q row %d: %v", name, row, err)
		}
		x[j] = f
	}

	return x, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
