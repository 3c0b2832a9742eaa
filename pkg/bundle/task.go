package bundle

import (
	"os"
	"path/filepath"
	"slices"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
)

// TaskDefinition is the training task described by a task bundle.
type TaskDefinition struct {
	Identifier      string         `json:"id"`
	Name            string         `json:"name"`
	Details         string         `json:"details"`
	ModelIdentifier string         `json:"model_id"`
	Epochs          uint           `json:"epochs"`
	BatchSize       uint           `json:"batch_size"`
	Shuffle         bool           `json:"shuffle"`
	Placeholders    map[string]any `json:"placeholders,omitempty"`
}

type TaskBundle struct {
	Path string
	Task TaskDefinition
}

// LoadTaskBundle validates the bundle at path, applying predicate last.
func LoadTaskBundle(path string, predicate Predicate) (*TaskBundle, error) {
	if err := ValidateTask(path, predicate); err != nil {
		return nil, err
	}

	manifest, err := readManifest(path, TaskManifest)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.KindBundle, "load task bundle", err)
	}
	task, err := parseTask(manifest)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.KindBundle, "load task bundle", err)
	}

	return &TaskBundle{Path: path, Task: task}, nil
}

// PlaceholderNames returns the task's placeholder names in sorted order.
func (t TaskDefinition) PlaceholderNames() []string {
	names := make([]string, 0, len(t.Placeholders))
	for name := range t.Placeholders {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// FindBundleDir returns root when it holds manifest, otherwise the single
// directory directly under root that does. Archives commonly wrap the bundle
// directory one level deep.
func FindBundleDir(root, manifest string) (string, error) {
	if _, err := os.Stat(filepath.Join(root, manifest)); err == nil {
		return root, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.KindBundle, "find bundle", err)
	}

	var found []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "__MACOSX" {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, manifest)); err == nil {
			found = append(found, dir)
		}
	}

	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", pkgerrors.New(pkgerrors.KindBundle, "find bundle", "no directory contains "+manifest)
	default:
		return "", pkgerrors.New(pkgerrors.KindBundle, "find bundle", "more than one directory contains "+manifest)
	}
}
