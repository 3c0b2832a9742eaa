// Package identifier implements the canonical (model, hyperparameters,
// checkpoint) triple that names a trained model artifact.
package identifier

import (
	"fmt"
	"strings"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
)

const (
	scheme  = "tio:///"
	format  = "tio:///models/%s/hyperparameters/%s/checkpoints/%s"
	nsModel = "models"
	nsHyper = "hyperparameters"
	nsCkpt  = "checkpoints"
)

// ModelIdentifier is immutable once constructed.
type ModelIdentifier struct {
	ModelID           string `json:"model_id"`
	HyperparametersID string `json:"hyperparameters_id"`
	CheckpointID      string `json:"checkpoint_id"`
}

func New(modelID, hyperparametersID, checkpointID string) (ModelIdentifier, error) {
	for name, v := range map[string]string{
		"model id":           modelID,
		"hyperparameters id": hyperparametersID,
		"checkpoint id":      checkpointID,
	} {
		if v == "" {
			return ModelIdentifier{}, fmt.Errorf("model identifier: %s is empty: %w", name, pkgerrors.ErrMissingValue)
		}
		if strings.Contains(v, "/") {
			return ModelIdentifier{}, fmt.Errorf("model identifier: %s %q contains '/': %w", name, v, pkgerrors.ErrInvalidValue)
		}
	}

	return ModelIdentifier{
		ModelID:           modelID,
		HyperparametersID: hyperparametersID,
		CheckpointID:      checkpointID,
	}, nil
}

// Parse reads a bundle id of the form
// tio:///models/<m>/hyperparameters/<h>/checkpoints/<c>. It returns false and
// a zero identifier when the string does not match.
func Parse(bundleID string) (ModelIdentifier, bool) {
	rest, ok := strings.CutPrefix(bundleID, scheme)
	if !ok {
		return ModelIdentifier{}, false
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 6 || parts[0] != nsModel || parts[2] != nsHyper || parts[4] != nsCkpt {
		return ModelIdentifier{}, false
	}

	id, err := New(parts[1], parts[3], parts[5])
	if err != nil {
		return ModelIdentifier{}, false
	}

	return id, true
}

func (id ModelIdentifier) String() string {
	return fmt.Sprintf(format, id.ModelID, id.HyperparametersID, id.CheckpointID)
}

func (id ModelIdentifier) IsZero() bool {
	return id == ModelIdentifier{}
}
