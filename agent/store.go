package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/absmach/fedlet/pkg/bundle"
	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/federated"
)

var _ federated.ModelStore = (*BundleStore)(nil)

// BundleStore resolves installed model bundles under dir, one directory per
// model id. The directory is either the bundle itself or wraps exactly one
// bundle directory.
type BundleStore struct {
	dir string
}

func NewBundleStore(dir string) *BundleStore {
	return &BundleStore{dir: dir}
}

func (s *BundleStore) Path(modelID string) (string, error) {
	if modelID == "" || modelID == "." || modelID == ".." || strings.ContainsAny(modelID, `/\`) {
		return "", fmt.Errorf("model id %q: %w", modelID, pkgerrors.ErrInvalidValue)
	}

	return filepath.Join(s.dir, modelID), nil
}

func (s *BundleStore) ModelBundle(modelID string) (*bundle.ModelBundle, error) {
	root, err := s.Path(modelID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", modelID, pkgerrors.ErrModelNotInstalled)
	}

	dir, err := bundle.FindBundleDir(root, bundle.ModelManifest)
	if err != nil {
		return nil, err
	}

	return bundle.LoadModelBundle(dir)
}

// Installed lists the model ids that have a directory under the store.
func (s *BundleStore) Installed() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	slices.Sort(ids)

	return ids, nil
}
