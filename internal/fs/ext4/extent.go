package ext4

import (
	"encoding/binary"

	"github.com/keramics/keramics/internal/kerr"
	"github.com/keramics/keramics/internal/stream"
)

const extentHeaderMagic = 0xf30a

// mappedBlocksExtents decodes an ext4 extent tree (spec.md §4.4,
// EXTENTS feature) rooted in the given 60-byte i_block area, returning
// every leaf's logical-to-physical block mapping. Uninitialized
// extents are mapped to physical block 0 (a hole), so readers get
// zero-filled output for them regardless of their declared physical
// blocks.
func mappedBlocksExtents(s stream.Stream, sb *Superblock, root []byte) (map[int64]int64, error) {
	out := map[int64]int64{}
	if err := walkExtentNode(s, sb, root, out); err != nil {
		return nil, err
	}
	return out, nil
}

func walkExtentNode(s stream.Stream, sb *Superblock, node []byte, out map[int64]int64) error {
	if len(node) < 12 || binary.LittleEndian.Uint16(node[0:2]) != extentHeaderMagic {
		return kerr.Frame(kerr.ErrInvalidMetadata, "ext4: bad extent tree header magic")
	}
	entries := binary.LittleEndian.Uint16(node[2:4])
	depth := binary.LittleEndian.Uint16(node[6:8])

	for i := uint16(0); i < entries; i++ {
		e := node[12+i*12 : 12+i*12+12]
		if depth == 0 {
			logicalBlock := int64(binary.LittleEndian.Uint32(e[0:4]))
			length := int64(binary.LittleEndian.Uint16(e[4:6]))
			uninitialized := false
			if length > 32768 {
				length -= 32768
				uninitialized = true
			}
			physicalLo := int64(binary.LittleEndian.Uint32(e[8:12]))
			physicalHi := int64(binary.LittleEndian.Uint16(e[6:8]))
			physical := physicalLo | physicalHi<<32
			for k := int64(0); k < length; k++ {
				if uninitialized {
					out[logicalBlock+k] = 0
				} else {
					out[logicalBlock+k] = physical + k
				}
			}
		} else {
			childLo := int64(binary.LittleEndian.Uint32(e[4:8]))
			childHi := int64(binary.LittleEndian.Uint16(e[8:10]))
			child := childLo | childHi<<32
			buf := make([]byte, sb.BlockSize())
			if err := s.ReadExactAt(child*sb.BlockSize(), buf); err != nil {
				return kerr.Frame(kerr.ErrIO, "ext4: read extent tree node at block %d", child)
			}
			if err := walkExtentNode(s, sb, buf, out); err != nil {
				return err
			}
		}
	}
	return nil
}
