package bundle

import (
	"slices"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/identifier"
	"github.com/absmach/fedlet/pkg/model"
	"github.com/absmach/fedlet/pkg/payload"
)

// ModelBundle is an installed model on disk. Identifier is zero when the
// bundle id is not a repository identifier, in which case the bundle cannot
// be updated.
type ModelBundle struct {
	Path         string
	ID           string
	Identifier   identifier.ModelIdentifier
	Name         string
	Version      string
	Backend      string
	File         string
	Inputs       []string
	Outputs      []string
	Placeholders []string

	manifest map[string]any
}

// LoadModelBundle validates and reads the bundle at path.
func LoadModelBundle(path string) (*ModelBundle, error) {
	if err := ValidateModel(path, nil); err != nil {
		return nil, err
	}

	manifest, err := readManifest(path, ModelManifest)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.KindBundle, "load model bundle", err)
	}
	o := payload.FromMap(ModelManifest, manifest)

	b := &ModelBundle{Path: path, manifest: manifest}
	b.ID, _ = o.String("id")
	b.Name, _ = o.String("name")
	b.Version, _ = o.String("version")
	b.Identifier, _ = identifier.Parse(b.ID)

	m, _ := o.Object("model")
	b.File, _ = m.String("file")
	b.Backend, _ = m.String("backend")

	b.Inputs = layerNames(o, "inputs")
	b.Outputs = layerNames(o, "outputs")
	b.Placeholders = layerNames(o, "placeholders")

	return b, nil
}

func layerNames(o payload.Object, field string) []string {
	layers, err := o.Objects(field)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(layers))
	for _, l := range layers {
		name, _ := l.String("name")
		names = append(names, name)
	}

	return names
}

func (b *ModelBundle) Manifest() map[string]any {
	return b.manifest
}

func (b *ModelBundle) Spec() model.Spec {
	return model.Spec{
		Path:     b.Path,
		File:     b.File,
		Inputs:   b.Inputs,
		Outputs:  b.Outputs,
		Manifest: b.manifest,
	}
}

// NewModel builds an unloaded model through the backend registered for the
// bundle's declared backend.
func (b *ModelBundle) NewModel() (model.Model, error) {
	return model.New(b.Backend, b.Spec())
}

// DeclaresPlaceholder reports whether the model accepts name as a placeholder.
func (b *ModelBundle) DeclaresPlaceholder(name string) bool {
	return slices.Contains(b.Placeholders, name)
}
