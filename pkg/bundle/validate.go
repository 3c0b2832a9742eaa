// Package bundle reads and validates model and task bundles: directories
// holding a JSON manifest plus any files the manifest refers to.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/payload"
)

const (
	ModelManifest = "model.json"
	TaskManifest  = "task.json"

	ModelExtension = ".tiobundle"
	TaskExtension  = ".tiotask"
)

var layerTypes = []string{"array", "image", "scalar", "string"}

// Predicate is a final caller-supplied check over a bundle. Its error is
// returned unchanged.
type Predicate func(path string, manifest map[string]any) error

func readManifest(path, name string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(path, name))
	if err != nil {
		return nil, err
	}

	o, err := payload.Decode(name, data)
	if err != nil {
		return nil, err
	}

	return o.Map(), nil
}

// ValidateModel checks the model.json of the bundle at path.
func ValidateModel(path string, predicate Predicate) error {
	const op = "validate model bundle"

	manifest, err := readManifest(path, ModelManifest)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.KindBundle, op, err)
	}
	if err := validateModelManifest(path, manifest); err != nil {
		return pkgerrors.Wrap(pkgerrors.KindBundle, op, err)
	}
	if predicate != nil {
		return predicate(path, manifest)
	}

	return nil
}

func validateModelManifest(path string, manifest map[string]any) error {
	o := payload.FromMap(ModelManifest, manifest)

	for _, field := range []string{"name", "details", "id", "version", "author", "license"} {
		if _, err := o.String(field); err != nil {
			return err
		}
	}

	m, err := o.Object("model")
	if err != nil {
		return err
	}
	file, err := m.NonEmptyString("file")
	if err != nil {
		return err
	}
	if _, err := m.NonEmptyString("backend"); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(path, file)); err != nil {
		return fmt.Errorf("model file %q: %w", file, err)
	}

	for _, field := range []string{"inputs", "outputs"} {
		layers, err := o.Objects(field)
		if err != nil {
			return err
		}
		if len(layers) == 0 {
			return pkgerrors.DeserializationError(ModelManifest, field, "at least one layer is required")
		}
		if err := validateLayers(field, layers); err != nil {
			return err
		}
	}

	if o.Has("placeholders") {
		layers, err := o.Objects("placeholders")
		if err != nil {
			return err
		}
		if err := validateLayers("placeholders", layers); err != nil {
			return err
		}
	}

	return nil
}

func validateLayers(field string, layers []payload.Object) error {
	seen := map[string]bool{}
	for i, l := range layers {
		name, err := l.NonEmptyString("name")
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		if seen[name] {
			return pkgerrors.DeserializationError(ModelManifest, field, fmt.Sprintf("duplicate layer %q", name))
		}
		seen[name] = true

		typ, err := l.String("type")
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		if !slices.Contains(layerTypes, typ) {
			return pkgerrors.DeserializationError(ModelManifest, field, fmt.Sprintf("layer %q has unknown type %q", name, typ))
		}
		if typ == "array" {
			if _, err := l.Ints("shape"); err != nil {
				return fmt.Errorf("%s[%d]: %w", field, i, err)
			}
		}
	}

	return nil
}

// ValidateTask checks the task.json of the bundle at path.
func ValidateTask(path string, predicate Predicate) error {
	const op = "validate task bundle"

	manifest, err := readManifest(path, TaskManifest)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.KindBundle, op, err)
	}
	if _, err := parseTask(manifest); err != nil {
		return pkgerrors.Wrap(pkgerrors.KindBundle, op, err)
	}
	if predicate != nil {
		return predicate(path, manifest)
	}

	return nil
}

func parseTask(manifest map[string]any) (TaskDefinition, error) {
	o := payload.FromMap(TaskManifest, manifest)

	var (
		t   TaskDefinition
		err error
	)
	if t.Identifier, err = o.NonEmptyString("id"); err != nil {
		return TaskDefinition{}, err
	}
	if t.Name, err = o.String("name"); err != nil {
		return TaskDefinition{}, err
	}
	if t.Details, err = o.String("details"); err != nil {
		return TaskDefinition{}, err
	}

	m, err := o.Object("model")
	if err != nil {
		return TaskDefinition{}, err
	}
	if t.ModelIdentifier, err = m.NonEmptyString("id"); err != nil {
		return TaskDefinition{}, err
	}

	params, err := o.Object("taskParameters")
	if err != nil {
		return TaskDefinition{}, err
	}
	epochs, err := params.Int("numEpochs")
	if err != nil {
		return TaskDefinition{}, err
	}
	if epochs < 1 {
		return TaskDefinition{}, pkgerrors.DeserializationError(TaskManifest, "numEpochs", "must be at least 1")
	}
	batchSize, err := params.Int("batchSize")
	if err != nil {
		return TaskDefinition{}, err
	}
	if batchSize < 1 {
		return TaskDefinition{}, pkgerrors.DeserializationError(TaskManifest, "batchSize", "must be at least 1")
	}
	if t.Shuffle, err = params.Bool("shuffle"); err != nil {
		return TaskDefinition{}, err
	}
	t.Epochs = uint(epochs)
	t.BatchSize = uint(batchSize)

	if v, ok := manifest["placeholders"]; ok && v != nil {
		p, err := o.Object("placeholders")
		if err != nil {
			return TaskDefinition{}, err
		}
		t.Placeholders = p.Map()
	}

	return t, nil
}

// MarshalManifest renders a manifest the way bundles store it.
func MarshalManifest(manifest any) ([]byte, error) {
	return json.MarshalIndent(manifest, "", "  ")
}
