package vecindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const (
	structureMagic   = "CHIX"
	structureVersion = uint32(1)
)

// vectorItem is one row of the structure file: an entry id and its vector.
type vectorItem struct {
	id  string
	vec []float32
}

// encodeStructure lays out magic, version, dim, count, then per item the
// id length, id bytes and dim little-endian float32 values.
func encodeStructure(dim int, items []vectorItem) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(16 + len(items)*(4+26+4*dim))
	buf.WriteString(structureMagic)
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], structureVersion)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(dim))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(items)))
	buf.Write(hdr[:])

	var u32 [4]byte
	for _, it := range items {
		if len(it.vec) != dim {
			return nil, fmt.Errorf("vecindex: vector %s has dim %d, want %d", it.id, len(it.vec), dim)
		}
		binary.LittleEndian.PutUint32(u32[:], uint32(len(it.id)))
		buf.Write(u32[:])
		buf.WriteString(it.id)
		for _, v := range it.vec {
			binary.LittleEndian.PutUint32(u32[:], math.Float32bits(v))
			buf.Write(u32[:])
		}
	}
	return buf.Bytes(), nil
}

func decodeStructure(data []byte) (int, []vectorItem, error) {
	if len(data) < 16 || string(data[:4]) != structureMagic {
		return 0, nil, errors.New("vecindex: not an index structure file")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != structureVersion {
		return 0, nil, fmt.Errorf("vecindex: unsupported structure version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))
	if dim <= 0 {
		return 0, nil, errors.New("vecindex: invalid dimension")
	}
	// every item takes at least a length prefix, one id byte and its vector
	if minItem := 4 + 1 + 4*dim; count > (len(data)-16)/minItem {
		return 0, nil, fmt.Errorf("vecindex: header claims %d items of dim %d, file holds at most %d", count, dim, (len(data)-16)/minItem)
	}
	off := 16
	items := make([]vectorItem, 0, count)
	for i := 0; i < count; i++ {
		if off+4 > len(data) {
			return 0, nil, errors.New("vecindex: truncated")
		}
		idLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if idLen <= 0 || off+idLen+4*dim > len(data) {
			return 0, nil, errors.New("vecindex: truncated")
		}
		id := string(data[off : off+idLen])
		off += idLen
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		items = append(items, vectorItem{id: id, vec: vec})
	}
	if off != len(data) {
		return 0, nil, errors.New("vecindex: trailing bytes")
	}
	return dim, items, nil
}

// writeFileAtomic replaces path with data through a synced temp file in the
// same directory, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
