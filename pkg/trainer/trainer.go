// Package trainer runs a bounded multi-epoch training loop over a data
// source. It knows nothing about tensors; rows are handed to the model as
// column batches.
package trainer

import (
	"context"
	"math/rand/v2"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/model"
)

type Params struct {
	Epochs       uint
	BatchSize    uint
	Shuffle      bool
	Placeholders map[string]any
	// Rand draws the per-epoch permutation when shuffling. Nil uses the
	// global source.
	Rand *rand.Rand
}

type Result struct {
	Epochs  uint
	Batches int
	Items   int
	Output  model.Batch
}

// BatchFunc observes each completed batch. epoch is zero based.
type BatchFunc func(epoch uint, batch int, output model.Batch)

// Train runs params.Epochs passes over ds in chunks of params.BatchSize,
// with a fresh permutation per epoch when shuffling. The final short chunk
// of an epoch is kept. The first training error aborts the run.
func Train(ctx context.Context, m model.Trainable, ds model.DataSource, params Params, onBatch BatchFunc) (Result, error) {
	const op = "train"

	if params.Epochs < 1 || params.BatchSize < 1 {
		return Result{}, pkgerrors.New(pkgerrors.KindTraining, op, "epochs and batch size must be at least 1")
	}

	count := ds.Count()
	keys := ds.Keys()
	size := int(params.BatchSize)

	order := make([]int, count)
	var res Result
	for epoch := range params.Epochs {
		for i := range order {
			order[i] = i
		}
		if params.Shuffle {
			shuffle(params.Rand, order)
		}

		for start, batch := 0, 0; start < count; start, batch = start+size, batch+1 {
			if err := ctx.Err(); err != nil {
				return res, pkgerrors.Wrap(pkgerrors.KindTraining, op, err)
			}

			chunk := order[start:min(start+size, count)]
			rows := make([]model.Row, len(chunk))
			for i, idx := range chunk {
				row, err := ds.Item(idx)
				if err != nil {
					return res, pkgerrors.Wrapf(pkgerrors.KindTraining, op, err, "fetch item %d: %v", idx, err)
				}
				rows[i] = row
			}

			out, err := m.Train(ctx, model.NewBatch(keys, rows), params.Placeholders)
			if err != nil {
				if pkgerrors.KindOf(err) == pkgerrors.KindTraining {
					return res, err
				}

				return res, pkgerrors.Wrap(pkgerrors.KindTraining, op, err)
			}

			res.Batches++
			res.Items += len(chunk)
			res.Output = out
			if onBatch != nil {
				onBatch(epoch, batch, out)
			}
		}
		res.Epochs++
	}

	return res, nil
}

func shuffle(r *rand.Rand, order []int) {
	swap := func(i, j int) { order[i], order[j] = order[j], order[i] }
	if r == nil {
		rand.Shuffle(len(order), swap)

		return
	}
	r.Shuffle(len(order), swap)
}
