package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/hyperjump/docchat/internal/models"
)

// snapshotVersion is written first so older files can be rejected.
const snapshotVersion uint32 = 1

// Save persists the store to path. Directory is created if needed. Format: version (4),
// namespace count (4), then per namespace: name, dimension (4), expected (4), sealed (1),
// record count (4), and per record: chunk id, page (4), index (4), ordinal (4), text,
// vector (dimension*4 bytes). Strings are a 4-byte length followed by the bytes.
func (m *MemoryStore) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	w := &snapshotWriter{w: bufio.NewWriter(f)}
	w.u32(snapshotVersion)
	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	w.u32(uint32(len(names)))
	for _, name := range names {
		n := m.namespaces[name]
		w.str(name)
		w.u32(uint32(n.dimensions))
		w.u32(uint32(n.expected))
		w.flag(n.sealed)
		records := n.sorted()
		w.u32(uint32(len(records)))
		for _, r := range records {
			w.str(r.Chunk.ID)
			w.u32(uint32(r.Chunk.Page))
			w.u32(uint32(r.Chunk.Index))
			w.u32(uint32(r.Chunk.Ordinal))
			w.str(r.Chunk.Text)
			w.bytes(float32SliceToBytes(r.Vector))
		}
	}
	if w.err != nil {
		return fmt.Errorf("write snapshot: %w", w.err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load reads the store from path and replaces the in-memory contents.
// If the file does not exist, no error is returned and the store is unchanged.
func (m *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	r := &snapshotReader{r: bufio.NewReader(f)}
	if v := r.u32(); r.err == nil && v != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", v)
	}
	namespaces := make(map[string]*memNamespace)
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		name := r.str()
		n := &memNamespace{
			dimensions: int(r.u32()),
			expected:   int(r.u32()),
			sealed:     r.flag(),
			records:    make(map[string]models.Record),
		}
		records := r.u32()
		for j := uint32(0); j < records && r.err == nil; j++ {
			chunk := &models.Chunk{DocumentID: name}
			chunk.ID = r.str()
			chunk.Page = int(r.u32())
			chunk.Index = int(r.u32())
			chunk.Ordinal = int(r.u32())
			chunk.Text = r.str()
			vec := bytesToFloat32Slice(r.fixed(n.dimensions * 4))
			n.records[chunk.ID] = models.Record{Chunk: chunk, Vector: vec}
		}
		namespaces[name] = n
	}
	if r.err != nil {
		return fmt.Errorf("read snapshot: %w", r.err)
	}
	m.mu.Lock()
	m.namespaces = namespaces
	m.mu.Unlock()
	return nil
}

type snapshotWriter struct {
	w   *bufio.Writer
	err error
}

func (s *snapshotWriter) u32(v uint32) {
	if s.err == nil {
		s.err = binary.Write(s.w, binary.LittleEndian, v)
	}
}

func (s *snapshotWriter) flag(v bool) {
	if s.err != nil {
		return
	}
	var b byte
	if v {
		b = 1
	}
	s.err = s.w.WriteByte(b)
}

func (s *snapshotWriter) bytes(b []byte) {
	if s.err == nil {
		_, s.err = s.w.Write(b)
	}
}

func (s *snapshotWriter) str(v string) {
	s.u32(uint32(len(v)))
	s.bytes([]byte(v))
}

type snapshotReader struct {
	r   *bufio.Reader
	err error
}

func (s *snapshotReader) u32() uint32 {
	var v uint32
	if s.err == nil {
		s.err = binary.Read(s.r, binary.LittleEndian, &v)
	}
	return v
}

func (s *snapshotReader) flag() bool {
	if s.err != nil {
		return false
	}
	b, err := s.r.ReadByte()
	s.err = err
	return b == 1
}

func (s *snapshotReader) fixed(n int) []byte {
	if s.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		s.err = err
	}
	return buf
}

func (s *snapshotReader) str() string {
	return string(s.fixed(int(s.u32())))
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
