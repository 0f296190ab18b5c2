package hedgehog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluketa/hedgehog/internal/idxstore"
	"github.com/aluketa/hedgehog/internal/mmapbuf"
	"github.com/aluketa/hedgehog/internal/osfile"
)

// shard owns one data file, one index file and the lock protecting
// them. A shard has no K/V type parameters: it works entirely in
// encoded bytes, a logical partition of the overall map.
type shard struct {
	mu sync.Mutex

	idx *idxstore.Store
	buf *mmapbuf.Buffer

	fsys         osfile.FS
	dataPath     string
	idxPath      string
	isPersistent bool
	maxRegion    int64
}

// shardFilenames computes the deterministic persistent names:
// map-<name>[-k].hdg / idx-<name>[-k].hdg, suffix omitted for shard 0.
func shardFilenames(dataPath, name string, index int) (dataFile, idxFile string) {
	if index == 0 {
		return filepath.Join(dataPath, fmt.Sprintf("map-%s.hdg", name)),
			filepath.Join(dataPath, fmt.Sprintf("idx-%s.hdg", name))
	}

	return filepath.Join(dataPath, fmt.Sprintf("map-%s-%d.hdg", name, index)),
		filepath.Join(dataPath, fmt.Sprintf("idx-%s-%d.hdg", name, index))
}

// shardConfig carries the subset of Options a shard needs, stripped of
// the K/V type parameters so shard construction doesn't itself need to
// be generic.
type shardConfig struct {
	dataPath        string
	name            string
	isPersistent    bool
	initialFileSize int64
	maxRegionSize   int64
}

func openShard(fsys osfile.FS, cfg shardConfig, index int) (*shard, error) {
	var dataPath, idxPath string

	if cfg.isPersistent {
		if err := fsys.MkdirAll(cfg.dataPath, 0o755); err != nil {
			return nil, fmt.Errorf("hedgehog: create data dir %s: %w: %w", cfg.dataPath, ErrIoFailure, err)
		}

		dataPath, idxPath = shardFilenames(cfg.dataPath, cfg.name, index)
	} else {
		tempDir := os.TempDir()

		dataFile, dataTemp, err := fsys.CreateTemp(tempDir, "hedgehog-map-*.hdg")
		if err != nil {
			return nil, fmt.Errorf("hedgehog: create temp data file: %w: %w", ErrIoFailure, err)
		}

		_ = dataFile.Close()

		idxFile, idxTemp, err := fsys.CreateTemp(tempDir, "hedgehog-idx-*.hdg")
		if err != nil {
			return nil, fmt.Errorf("hedgehog: create temp idx file: %w: %w", ErrIoFailure, err)
		}

		_ = idxFile.Close()

		dataPath, idxPath = dataTemp, idxTemp
	}

	idx, err := idxstore.Open(fsys, idxPath, 0, cfg.initialFileSize, cfg.isPersistent, cfg.maxRegionSize)
	if err != nil {
		return nil, err
	}

	buf, err := mmapbuf.Open(fsys, dataPath, cfg.initialFileSize, cfg.isPersistent, cfg.maxRegionSize)
	if err != nil {
		_ = idx.Close()

		return nil, err
	}

	sh := &shard{
		idx:          idx,
		buf:          buf,
		fsys:         fsys,
		dataPath:     dataPath,
		idxPath:      idxPath,
		isPersistent: cfg.isPersistent,
		maxRegion:    cfg.maxRegionSize,
	}

	if idx.Size() > 0 {
		if err := sh.restoreCursor(); err != nil {
			_ = idx.Close()
			_ = buf.Close()

			return nil, err
		}
	}

	return sh, nil
}

// restoreCursor sets the data buffer's append cursor to the highest
// (offset+length) among all live entries, reconstructing the
// append position a fresh open can't otherwise know.
func (s *shard) restoreCursor() error {
	entries, err := s.idx.Entries()
	if err != nil {
		return err
	}

	var maxEnd int64

	for _, e := range entries {
		end := e.ValueOffset + int64(e.ValueLength)
		if end > maxEnd {
			maxEnd = end
		}
	}

	s.buf.SetPosition(maxEnd)

	return nil
}

func (s *shard) close() error {
	if err := s.idx.Close(); err != nil {
		return err
	}

	return s.buf.Close()
}

func (s *shard) force() error {
	if err := s.idx.Force(); err != nil {
		return err
	}

	return s.buf.Force()
}
