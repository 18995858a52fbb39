package packet

import (
	"encoding/binary"
	"math"

	"golang.org/x/text/encoding/charmap"

	"github.com/simfleet/server/internal/geom"
)

// Reader reads packet fields from a frame payload. Byte 0 is always the
// opcode. A read past the end yields the zero value and marks the packet
// truncated; handlers check Truncated once after reading every field.
type Reader struct {
	data  []byte
	off   int
	short bool
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data, off: 1} // skip opcode byte
}

func (r *Reader) Opcode() byte {
	if len(r.data) == 0 {
		return 0
	}
	return r.data[0]
}

// Truncated reports whether any read ran past the payload.
func (r *Reader) Truncated() bool { return r.short }

// take returns the next n bytes, or nil when fewer are left.
func (r *Reader) take(n int) []byte {
	if r.off+n > len(r.data) {
		r.off = len(r.data)
		r.short = true
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

// ReadH reads 2 bytes as little-endian uint16.
func (r *Reader) ReadH() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

// ReadD reads 4 bytes as little-endian int32.
func (r *Reader) ReadD() int32 {
	return int32(r.ReadDU())
}

// ReadDU reads 4 bytes as little-endian uint32.
func (r *Reader) ReadDU() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// ReadF reads 8 bytes as a little-endian float64. NaN and infinities read as
// zero so a hostile peer cannot poison positions.
func (r *Reader) ReadF() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(b))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ReadVec3 reads three ReadF values as x, y, z.
func (r *Reader) ReadVec3() geom.Vec3 {
	return geom.Vec3{X: r.ReadF(), Y: r.ReadF(), Z: r.ReadF()}
}

// ReadS reads a null-terminated Windows-1252 string and returns UTF-8. A
// missing terminator marks the packet truncated.
func (r *Reader) ReadS() string {
	start := r.off
	for r.off < len(r.data) {
		if r.data[r.off] == 0 {
			raw := r.data[start:r.off]
			r.off++ // skip null terminator
			return latinToUTF8(raw)
		}
		r.off++
	}
	r.short = true
	return latinToUTF8(r.data[start:r.off])
}

// ReadStrings reads a byte count followed by that many strings. Only the
// first keep strings are returned; the rest are consumed.
func (r *Reader) ReadStrings(keep int) []string {
	n := int(r.ReadC())
	out := make([]string, 0, min(n, keep))
	for i := range n {
		s := r.ReadS()
		if i < keep {
			out = append(out, s)
		}
	}
	return out
}

// latinToUTF8 converts Windows-1252 bytes to a UTF-8 string.
// Pure ASCII passes through unchanged.
func latinToUTF8(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	allASCII := true
	for _, b := range raw {
		if b >= 0x80 {
			allASCII = false
			break
		}
	}
	if allASCII {
		return string(raw)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// ReadBytes reads n raw bytes, or whatever is left if fewer remain.
func (r *Reader) ReadBytes(n int) []byte {
	if r.off+n > len(r.data) {
		remaining := r.data[r.off:]
		r.off = len(r.data)
		r.short = true
		return remaining
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}
