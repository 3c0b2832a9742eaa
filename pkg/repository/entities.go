package repository

import (
	"net/url"
	"time"

	"github.com/absmach/fedlet/pkg/payload"
)

const (
	statusServing = "SERVING"

	modelEntity               = "repository.Model"
	hyperparametersEntity     = "repository.Hyperparameters"
	checkpointEntity          = "repository.Checkpoint"
	modelsEntity              = "repository.Models"
	hyperparametersListEntity = "repository.HyperparametersList"
	checkpointsEntity         = "repository.Checkpoints"
	statusEntity              = "repository.Status"
)

// Models lists the ids of every model in the repository.
type Models struct {
	ModelIDs []string `json:"model_ids"`
}

type HyperparametersList struct {
	ModelID            string   `json:"model_id"`
	HyperparametersIDs []string `json:"hyperparameters_ids"`
}

type Checkpoints struct {
	ModelID           string   `json:"model_id"`
	HyperparametersID string   `json:"hyperparameters_id"`
	CheckpointIDs     []string `json:"checkpoint_ids"`
}

type Model struct {
	ModelID                  string `json:"model_id"`
	Details                  string `json:"details"`
	CanonicalHyperparameters string `json:"canonical_hyperparameters"`
}

// Hyperparameters is one hyperparameter set of a model. UpgradeTo names a
// replacement set when the repository has retired this one.
type Hyperparameters struct {
	ModelID             string            `json:"model_id"`
	HyperparametersID   string            `json:"hyperparameters_id"`
	UpgradeTo           string            `json:"upgrade_to,omitempty"`
	Hyperparameters     map[string]string `json:"hyperparameters"`
	CanonicalCheckpoint string            `json:"canonical_checkpoint"`
}

type Checkpoint struct {
	ModelID           string            `json:"model_id"`
	HyperparametersID string            `json:"hyperparameters_id"`
	CheckpointID      string            `json:"checkpoint_id"`
	CreatedAt         time.Time         `json:"created_at"`
	Info              map[string]string `json:"info"`
	Link              *url.URL          `json:"-"`
}

func decodeStatus(data []byte) (string, error) {
	o, err := payload.Decode(statusEntity, data)
	if err != nil {
		return "", err
	}

	return o.String("status")
}

func decodeModel(data []byte) (Model, error) {
	o, err := payload.Decode(modelEntity, data)
	if err != nil {
		return Model{}, err
	}

	var m Model
	if m.ModelID, err = o.NonEmptyString("modelId"); err != nil {
		return Model{}, err
	}
	if m.Details, err = o.String("details"); err != nil {
		return Model{}, err
	}
	if m.CanonicalHyperparameters, err = o.NonEmptyString("canonicalHyperparameters"); err != nil {
		return Model{}, err
	}

	return m, nil
}

func decodeHyperparameters(data []byte) (Hyperparameters, error) {
	o, err := payload.Decode(hyperparametersEntity, data)
	if err != nil {
		return Hyperparameters{}, err
	}

	var h Hyperparameters
	if h.ModelID, err = o.NonEmptyString("modelId"); err != nil {
		return Hyperparameters{}, err
	}
	if h.HyperparametersID, err = o.NonEmptyString("hyperparametersId"); err != nil {
		return Hyperparameters{}, err
	}
	if h.UpgradeTo, err = o.OptionalString("upgradeTo"); err != nil {
		return Hyperparameters{}, err
	}
	if h.Hyperparameters, err = o.StringMap("hyperparameters"); err != nil {
		return Hyperparameters{}, err
	}
	if h.CanonicalCheckpoint, err = o.NonEmptyString("canonicalCheckpoint"); err != nil {
		return Hyperparameters{}, err
	}

	return h, nil
}

func decodeCheckpoint(data []byte) (Checkpoint, error) {
	o, err := payload.Decode(checkpointEntity, data)
	if err != nil {
		return Checkpoint{}, err
	}

	var c Checkpoint
	if c.ModelID, err = o.NonEmptyString("modelId"); err != nil {
		return Checkpoint{}, err
	}
	if c.HyperparametersID, err = o.NonEmptyString("hyperparametersId"); err != nil {
		return Checkpoint{}, err
	}
	if c.CheckpointID, err = o.NonEmptyString("checkpointId"); err != nil {
		return Checkpoint{}, err
	}
	if c.CreatedAt, err = o.Time("createdAt"); err != nil {
		return Checkpoint{}, err
	}
	if c.Info, err = o.StringMap("info"); err != nil {
		return Checkpoint{}, err
	}
	if c.Link, err = o.URL("link"); err != nil {
		return Checkpoint{}, err
	}

	return c, nil
}

func decodeModels(data []byte) (Models, error) {
	o, err := payload.Decode(modelsEntity, data)
	if err != nil {
		return Models{}, err
	}

	ids, err := o.Strings("modelIds")
	if err != nil {
		return Models{}, err
	}

	return Models{ModelIDs: ids}, nil
}

func decodeHyperparametersList(data []byte) (HyperparametersList, error) {
	o, err := payload.Decode(hyperparametersListEntity, data)
	if err != nil {
		return HyperparametersList{}, err
	}

	var l HyperparametersList
	if l.ModelID, err = o.NonEmptyString("modelId"); err != nil {
		return HyperparametersList{}, err
	}
	if l.HyperparametersIDs, err = o.Strings("hyperparametersIds"); err != nil {
		return HyperparametersList{}, err
	}

	return l, nil
}

func decodeCheckpoints(data []byte) (Checkpoints, error) {
	o, err := payload.Decode(checkpointsEntity, data)
	if err != nil {
		return Checkpoints{}, err
	}

	var l Checkpoints
	if l.ModelID, err = o.NonEmptyString("modelId"); err != nil {
		return Checkpoints{}, err
	}
	if l.HyperparametersID, err = o.NonEmptyString("hyperparametersId"); err != nil {
		return Checkpoints{}, err
	}
	if l.CheckpointIDs, err = o.Strings("checkpointIds"); err != nil {
		return Checkpoints{}, err
	}

	return l, nil
}
