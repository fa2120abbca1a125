package vectorstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Snapshot file suffixes. Both files are written and read together.
const (
	VectorFileExt   = ".vec"
	MetadataFileExt = ".meta"
)

const snapshotVersion = 1

var vecMagic = [4]byte{'D', 'R', 'V', 'X'}

type vecHeader struct {
	Magic     [4]byte
	Version   uint32
	Dimension uint32
	Count     uint64
}

type metaFile struct {
	Version   int         `json:"version"`
	Dimension int         `json:"dimension"`
	Entries   []metaEntry `json:"entries"`
}

type metaEntry struct {
	Position int `json:"position"`
	Record
	Deleted bool `json:"deleted"`
}

// Save writes path.vec (little-endian float32 rows after a fixed header) and
// path.meta (JSON, one entry per position). Writers are blocked for the
// duration. Each file is written to a temp file and renamed into place.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	err := writeAtomic(path+VectorFileExt, func(w io.Writer) error {
		hdr := vecHeader{
			Magic:     vecMagic,
			Version:   snapshotVersion,
			Dimension: uint32(idx.dim),
			Count:     uint64(len(idx.entries)),
		}
		if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
			return err
		}
		for _, e := range idx.entries {
			if err := binary.Write(w, binary.LittleEndian, e.Vector); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}

	meta := metaFile{
		Version:   snapshotVersion,
		Dimension: idx.dim,
		Entries:   make([]metaEntry, len(idx.entries)),
	}
	for i, e := range idx.entries {
		meta.Entries[i] = metaEntry{Position: e.Position, Record: e.Record, Deleted: e.Deleted}
	}
	err = writeAtomic(path+MetadataFileExt, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	idx.logger.Info("Saved index snapshot", "path", path, "vectors", len(idx.entries))
	return nil
}

// Load reads a snapshot written by Save. Missing files return an error
// matching fs.ErrNotExist; any header, length or dimension inconsistency
// returns ErrCorruptSnapshot.
func Load(path string, opts ...Option) (*Index, error) {
	vf, err := os.Open(path + VectorFileExt)
	if err != nil {
		return nil, fmt.Errorf("open vectors: %w", err)
	}
	defer vf.Close()

	r := bufio.NewReader(vf)
	var hdr vecHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorruptSnapshot, err)
	}
	if hdr.Magic != vecMagic || hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptSnapshot)
	}

	metaData, err := os.ReadFile(path + MetadataFileExt)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	var meta metaFile
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("%w: parse metadata: %v", ErrCorruptSnapshot, err)
	}
	if meta.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: metadata version %d", ErrCorruptSnapshot, meta.Version)
	}
	if meta.Dimension != int(hdr.Dimension) {
		return nil, fmt.Errorf("%w: dimension %d in vectors, %d in metadata",
			ErrCorruptSnapshot, hdr.Dimension, meta.Dimension)
	}
	if uint64(len(meta.Entries)) != hdr.Count {
		return nil, fmt.Errorf("%w: %d vectors, %d metadata entries",
			ErrCorruptSnapshot, hdr.Count, len(meta.Entries))
	}

	idx := New(int(hdr.Dimension), opts...)
	idx.entries = make([]Entry, len(meta.Entries))
	for i, m := range meta.Entries {
		if m.Position != i {
			return nil, fmt.Errorf("%w: entry %d has position %d", ErrCorruptSnapshot, i, m.Position)
		}
		vec := make([]float32, idx.dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("%w: read vector %d: %v", ErrCorruptSnapshot, i, err)
		}
		idx.entries[i] = Entry{Position: i, Vector: vec, Record: m.Record, Deleted: m.Deleted}
		if m.Deleted {
			idx.deleted++
		} else {
			idx.byDocument[m.DocumentID] = append(idx.byDocument[m.DocumentID], i)
		}
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after %d vectors", ErrCorruptSnapshot, hdr.Count)
	}

	idx.logger.Info("Loaded index snapshot", "path", path,
		"vectors", len(idx.entries), "deleted", idx.deleted)
	return idx, nil
}

// SnapshotExists reports whether both snapshot files are present.
func SnapshotExists(path string) bool {
	for _, ext := range []string{VectorFileExt, MetadataFileExt} {
		if _, err := os.Stat(path + ext); err != nil {
			return false
		}
	}
	return true
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := write(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
