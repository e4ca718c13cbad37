// Package snapshot persists the vector index and catalog projection as a
// pair of durable artifacts.
package snapshot

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/gzip"

	"storefront/internal/domain"
)

// ErrCorruptSnapshot indicates the persisted pair is inconsistent or
// unreadable. The snapshot must not be served; rebuild from the product
// store instead.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// ErrPersistenceTimeout is returned when a save exceeds its deadline.
var ErrPersistenceTimeout = errors.New("snapshot write timed out")

const (
	vectorsFile = "vectors.bin.gz"
	catalogFile = "catalog.json.gz"

	vectorsMagic   = 0x53465649 // "SFVI"
	vectorsVersion = 1
)

// State is the full persisted state of the search core.
type State struct {
	Dimension int
	Vectors   [][]float32
	Deleted   *roaring.Bitmap
	Products  []domain.Product
}

type catalogPayload struct {
	Version  int              `json:"version"`
	Products []domain.Product `json:"products"`
}

// Store reads and writes snapshots under a single directory.
type Store struct {
	dir string
}

// NewStore creates a snapshot store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes both artifacts. The vectors artifact is written before the
// catalog artifact, so a crash between the two never leaves a catalog entry
// without its vector. Each artifact is written to a temp file and renamed
// into place.
func (s *Store) Save(ctx context.Context, state State) error {
	if len(state.Vectors) != len(state.Products) {
		return fmt.Errorf("%w: %d vectors but %d products", ErrCorruptSnapshot, len(state.Vectors), len(state.Products))
	}

	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := s.writeVectors(state); err != nil {
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return s.writeCatalog(state.Products)
}

// Load reads both artifacts. The boolean is false when no snapshot exists
// yet (first run). A vector/product count mismatch fails with
// ErrCorruptSnapshot rather than returning a half-consistent pair.
func (s *Store) Load() (State, bool, error) {
	vectorsPath := filepath.Join(s.dir, vectorsFile)
	catalogPath := filepath.Join(s.dir, catalogFile)

	if _, err := os.Stat(vectorsPath); os.IsNotExist(err) {
		return State{}, false, nil
	}

	state, err := s.readVectors(vectorsPath)
	if err != nil {
		return State{}, false, err
	}

	products, err := s.readCatalog(catalogPath)
	if err != nil {
		return State{}, false, err
	}
	state.Products = products

	if len(state.Vectors) != len(state.Products) {
		return State{}, false, fmt.Errorf("%w: %d vectors but %d products", ErrCorruptSnapshot, len(state.Vectors), len(state.Products))
	}

	return state, true, nil
}

func (s *Store) writeVectors(state State) error {
	dim := state.Dimension
	for _, v := range state.Vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector length %d, dimension %d", ErrCorruptSnapshot, len(v), dim)
		}
	}

	return s.writeArtifact(vectorsFile, func(w io.Writer) error {
		header := []uint32{vectorsMagic, vectorsVersion, uint32(dim), uint32(len(state.Vectors))}
		for _, h := range header {
			if err := binary.Write(w, binary.LittleEndian, h); err != nil {
				return err
			}
		}

		buf := make([]byte, 4)
		for _, vec := range state.Vectors {
			for _, f := range vec {
				binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
				if _, err := w.Write(buf); err != nil {
					return err
				}
			}
		}

		deleted := state.Deleted
		if deleted == nil {
			deleted = roaring.New()
		}
		bm, err := deleted.ToBytes()
		if err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(bm))); err != nil {
			return err
		}
		_, err = w.Write(bm)
		return err
	})
}

func (s *Store) writeCatalog(products []domain.Product) error {
	return s.writeArtifact(catalogFile, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(catalogPayload{Version: 1, Products: products})
	})
}

func (s *Store) writeArtifact(name string, write func(io.Writer) error) error {
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	if err := write(gz); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to finish %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *Store) readVectors(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer gz.Close()

	var magic, version, dim, count uint32
	for _, p := range []*uint32{&magic, &version, &dim, &count} {
		if err := binary.Read(gz, binary.LittleEndian, p); err != nil {
			return State{}, fmt.Errorf("%w: short header: %v", ErrCorruptSnapshot, err)
		}
	}
	if magic != vectorsMagic {
		return State{}, fmt.Errorf("%w: bad magic %#x", ErrCorruptSnapshot, magic)
	}
	if version != vectorsVersion {
		return State{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, version)
	}

	vectors := make([][]float32, count)
	buf := make([]byte, 4)
	for i := range vectors {
		vec := make([]float32, dim)
		for j := range vec {
			if _, err := io.ReadFull(gz, buf); err != nil {
				return State{}, fmt.Errorf("%w: truncated vector data: %v", ErrCorruptSnapshot, err)
			}
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
		}
		vectors[i] = vec
	}

	var bmLen uint32
	if err := binary.Read(gz, binary.LittleEndian, &bmLen); err != nil {
		return State{}, fmt.Errorf("%w: missing tombstone set: %v", ErrCorruptSnapshot, err)
	}
	bm := make([]byte, bmLen)
	if _, err := io.ReadFull(gz, bm); err != nil {
		return State{}, fmt.Errorf("%w: truncated tombstone set: %v", ErrCorruptSnapshot, err)
	}
	deleted := roaring.New()
	if bmLen > 0 {
		if err := deleted.UnmarshalBinary(bm); err != nil {
			return State{}, fmt.Errorf("%w: bad tombstone set: %v", ErrCorruptSnapshot, err)
		}
	}

	return State{Dimension: int(dim), Vectors: vectors, Deleted: deleted}, nil
}

func (s *Store) readCatalog(path string) ([]domain.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer gz.Close()

	var payload catalogPayload
	if err := json.NewDecoder(gz).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return payload.Products, nil
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrPersistenceTimeout, err)
		}
		return err
	}
	return nil
}
