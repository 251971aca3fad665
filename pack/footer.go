package pack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Footer layout, trailing the last record:
//
//	"ZPCK" | version u8 | entryCount u32 |
//	entryCount × (docId u32, offsetLow u32, offsetHigh u32) |
//	footerSize u32
//
// footerSize counts the whole footer including itself and occupies the last
// four bytes of the file, so a loader can find the footer start from the end.
const (
	footerVersion  = 1
	footerMagicLen = 4
	footerFixedLen = footerMagicLen + 1 + 4 + 4
	footerEntryLen = 12
)

var footerMagic = []byte{'Z', 'P', 'C', 'K'}

var errorFooterInvalid = errors.New("invalid footer")

func encodeFooter(index map[DocID]int64) []byte {
	ids := make([]DocID, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	size := footerFixedLen + footerEntryLen*len(ids)
	footer := make([]byte, 0, size)
	footer = append(footer, footerMagic...)
	footer = append(footer, footerVersion)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(ids)))
	for _, id := range ids {
		offset := index[id]
		footer = binary.LittleEndian.AppendUint32(footer, uint32(id))
		footer = binary.LittleEndian.AppendUint32(footer, uint32(offset))
		footer = binary.LittleEndian.AppendUint32(footer, uint32(offset>>32))
	}
	footer = binary.LittleEndian.AppendUint32(footer, uint32(size))

	return footer
}

// decodeFooter parses a complete footer blob. dataEnd is where the footer
// starts; every entry offset must leave room for at least a record header
// before it.
func decodeFooter(footer []byte, dataEnd int64) (map[DocID]int64, error) {
	if len(footer) < footerFixedLen {
		return nil, fmt.Errorf("%w: %d bytes", errorFooterInvalid, len(footer))
	}
	if !bytes.Equal(footer[:footerMagicLen], footerMagic) {
		return nil, fmt.Errorf("%w: bad magic", errorFooterInvalid)
	}
	if footer[footerMagicLen] != footerVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errorFooterInvalid, footer[footerMagicLen])
	}

	count := int(binary.LittleEndian.Uint32(footer[footerMagicLen+1:]))
	if len(footer) != footerFixedLen+footerEntryLen*count {
		return nil, fmt.Errorf("%w: %d entries do not fit %d bytes", errorFooterInvalid, count, len(footer))
	}
	if size := binary.LittleEndian.Uint32(footer[len(footer)-4:]); int(size) != len(footer) {
		return nil, fmt.Errorf("%w: size field mismatch", errorFooterInvalid)
	}

	index := make(map[DocID]int64, count)
	p := footerMagicLen + 1 + 4
	for i := 0; i < count; i++ {
		id := DocID(binary.LittleEndian.Uint32(footer[p:]))
		low := int64(binary.LittleEndian.Uint32(footer[p+4:]))
		high := int64(binary.LittleEndian.Uint32(footer[p+8:]))
		offset := high<<32 | low
		if offset+headerLen > dataEnd {
			return nil, fmt.Errorf("%w: entry %d points beyond data", errorFooterInvalid, i)
		}
		index[id] = offset
		p += footerEntryLen
	}

	return index, nil
}
