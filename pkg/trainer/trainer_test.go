package trainer_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/model"
	"github.com/absmach/fedlet/pkg/model/modeltest"
	"github.com/absmach/fedlet/pkg/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTrainBatches(t *testing.T) {
	m := &modeltest.Trainable{}
	ds := modeltest.NewDataSource(7)

	var seen [][2]int
	res, err := trainer.Train(context.Background(), m, ds, trainer.Params{Epochs: 2, BatchSize: 3}, func(epoch uint, batch int, _ model.Batch) {
		seen = append(seen, [2]int{int(epoch), batch})
	})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 1, 3, 3, 1}, m.BatchSizes())
	assert.Equal(t, 14, ds.Fetches())
	assert.Equal(t, 6, res.Batches)
	assert.Equal(t, 14, res.Items)
	assert.Equal(t, uint(2), res.Epochs)
	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}, seen)
	for i := range 7 {
		assert.Equal(t, 2, ds.CountFor(i))
	}
	assert.Equal(t, []any{0, 1, 2}, m.Batches()[0]["index"])
}

func TestTrainCounts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		epochs := rapid.IntRange(1, 5).Draw(rt, "epochs")
		batchSize := rapid.IntRange(1, 10).Draw(rt, "batchSize")
		count := rapid.IntRange(0, 40).Draw(rt, "count")
		shuffle := rapid.Bool().Draw(rt, "shuffle")

		m := &modeltest.Trainable{}
		ds := modeltest.NewDataSource(count)

		_, err := trainer.Train(context.Background(), m, ds, trainer.Params{
			Epochs:    uint(epochs),
			BatchSize: uint(batchSize),
			Shuffle:   shuffle,
		}, nil)
		if err != nil {
			rt.Fatalf("train: %v", err)
		}

		if got, want := ds.Fetches(), epochs*count; got != want {
			rt.Fatalf("fetches = %d, want %d", got, want)
		}
		batches := (count + batchSize - 1) / batchSize
		if got, want := m.TrainCalls(), epochs*batches; got != want {
			rt.Fatalf("train calls = %d, want %d", got, want)
		}
		for i := range count {
			if ds.CountFor(i) != epochs {
				rt.Fatalf("index %d fetched %d times, want %d", i, ds.CountFor(i), epochs)
			}
		}
	})
}

func TestTrainOrder(t *testing.T) {
	const n = 50

	t.Run("ascending without shuffle", func(t *testing.T) {
		ds := modeltest.NewDataSource(n)
		_, err := trainer.Train(context.Background(), &modeltest.Trainable{}, ds, trainer.Params{Epochs: 3, BatchSize: 8}, nil)
		require.NoError(t, err)

		order := ds.Order()
		for e := range 3 {
			assert.True(t, slices.IsSorted(order[e*n:(e+1)*n]))
		}
	})

	t.Run("fresh permutation per epoch", func(t *testing.T) {
		ds := modeltest.NewDataSource(n)
		_, err := trainer.Train(context.Background(), &modeltest.Trainable{}, ds, trainer.Params{
			Epochs:    2,
			BatchSize: 8,
			Shuffle:   true,
			Rand:      rand.New(rand.NewPCG(1, 2)),
		}, nil)
		require.NoError(t, err)

		order := ds.Order()
		first, second := order[:n], order[n:]
		assert.NotEqual(t, first, second)

		for _, epoch := range [][]int{first, second} {
			sorted := slices.Clone(epoch)
			slices.Sort(sorted)
			for i, v := range sorted {
				require.Equal(t, i, v)
			}
		}
	})
}

func TestTrainAbortsOnFirstError(t *testing.T) {
	errDiverged := errors.New("loss diverged")
	m := &modeltest.Trainable{TrainErr: errDiverged, FailAt: 2}
	ds := modeltest.NewDataSource(7)

	res, err := trainer.Train(context.Background(), m, ds, trainer.Params{Epochs: 2, BatchSize: 3}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiverged)
	assert.Equal(t, pkgerrors.KindTraining, pkgerrors.KindOf(err))
	assert.Equal(t, 2, m.TrainCalls())
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 6, ds.Fetches())
}

func TestTrainRejectsZeroParams(t *testing.T) {
	_, err := trainer.Train(context.Background(), &modeltest.Trainable{}, modeltest.NewDataSource(1), trainer.Params{Epochs: 0, BatchSize: 1}, nil)
	require.Error(t, err)
}

func TestTrainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &modeltest.Trainable{}
	_, err := trainer.Train(ctx, m, modeltest.NewDataSource(5), trainer.Params{Epochs: 1, BatchSize: 1}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.TrainCalls())
}
