package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/federated"
	"github.com/absmach/fedlet/pkg/model"
)

const dataExt = ".jsonl"

var _ federated.DataSourceProvider = (*FileDataSourceProvider)(nil)

// FileDataSourceProvider serves JSON lines from <dir>/<task-id>.jsonl,
// falling back to <dir>/<model-id>.jsonl. Each line is one row object and
// every row must carry the same keys.
type FileDataSourceProvider struct {
	dir string
}

func NewFileDataSourceProvider(dir string) *FileDataSourceProvider {
	return &FileDataSourceProvider{dir: dir}
}

// DataSourceForTask returns a nil source when neither file exists.
func (p *FileDataSourceProvider) DataSourceForTask(taskID, modelID string) (model.DataSource, error) {
	for _, name := range []string{taskID, modelID} {
		if name == "" {
			continue
		}
		path := filepath.Join(p.dir, filepath.Base(name)+dataExt)
		src, err := readRows(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return src, nil
	}

	return nil, nil
}

type rowSource struct {
	keys []string
	rows []model.Row
}

func (s *rowSource) Keys() []string {
	return s.keys
}

func (s *rowSource) Count() int {
	return len(s.rows)
}

func (s *rowSource) Item(index int) (model.Row, error) {
	if index < 0 || index >= len(s.rows) {
		return nil, fmt.Errorf("row %d out of range [0, %d)", index, len(s.rows))
	}

	return s.rows[index], nil
}

func readRows(path string) (*rowSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src := &rowSource{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		var row model.Row
		if err := json.Unmarshal(data, &row); err != nil || row == nil {
			return nil, pkgerrors.New(pkgerrors.KindParse, "read rows", fmt.Sprintf("%s:%d: expected JSON object", path, line))
		}

		keys := slices.Sorted(maps.Keys(row))
		if src.keys == nil {
			src.keys = keys
		} else if !slices.Equal(src.keys, keys) {
			return nil, pkgerrors.New(pkgerrors.KindParse, "read rows", fmt.Sprintf("%s:%d: keys %v differ from %v", path, line, keys, src.keys))
		}
		src.rows = append(src.rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return src, nil
}
