package pack

import (
	"errors"
	"strings"
	"testing"

	. "github.com/fulldump/biff"
)

func TestCodec_RoundTrip(t *testing.T) {
	fields := map[string]any{
		"name":   "Alice",
		"age":    float64(31),
		"active": true,
		"score":  nil,
	}

	record, err := encodeDocument(7, fields, false)
	AssertNil(err)

	doc, err := decodeDocument(record[sizeLen:], false)
	AssertNil(err)
	AssertEqual(doc.ID, DocID(7))
	AssertFalse(doc.Tombstone())
	AssertEqual(doc.Fields, fields)
}

func TestCodec_RoundTripCompressed(t *testing.T) {
	fields := map[string]any{
		"name": "Alice",
		"bio":  strings.Repeat("long ", 200), // over the flat-mode value limit
		"age":  float64(31),
	}

	record, err := encodeDocument(9, fields, true)
	AssertNil(err)

	doc, err := decodeDocument(record[sizeLen:], true)
	AssertNil(err)
	AssertEqual(doc.ID, DocID(9))
	AssertEqual(doc.Fields, fields)
}

func TestCodec_ExactLayout(t *testing.T) {
	record, err := encodeDocument(7, map[string]any{"a": "x"}, false)

	AssertNil(err)
	// u16 payloadSize=10 | u32 id=7 | keyLen=1 'a' valLen=3 `"x"`
	AssertEqual(record, []byte{
		0x0A, 0x00,
		0x07, 0x00, 0x00, 0x00,
		0x01, 'a',
		0x03, '"', 'x', '"',
	})
}

func TestCodec_Tombstone(t *testing.T) {
	record := encodeTombstone(12)

	AssertEqual(record, []byte{0x04, 0x00, 0x0C, 0x00, 0x00, 0x00})

	doc, err := decodeDocument(record[sizeLen:], false)
	AssertNil(err)
	AssertEqual(doc.ID, DocID(12))
	AssertTrue(doc.Tombstone())
}

func TestCodec_EmptyFieldsDegradeToTombstone(t *testing.T) {
	record, err := encodeDocument(3, map[string]any{}, false)
	AssertNil(err)
	AssertEqual(record, encodeTombstone(3))

	record, err = encodeDocument(3, nil, true)
	AssertNil(err)
	AssertEqual(record, encodeTombstone(3))
}

func TestCodec_KeyTooLong(t *testing.T) {
	fields := map[string]any{strings.Repeat("k", 256): "v"}

	_, err := encodeDocument(1, fields, false)

	AssertTrue(errors.Is(err, ErrorKeyTooLong))
}

func TestCodec_ValueTooLong(t *testing.T) {
	fields := map[string]any{"bio": strings.Repeat("v", 256)}

	_, err := encodeDocument(1, fields, false)

	AssertTrue(errors.Is(err, ErrorValueTooLong))
}

func TestCodec_ValueLimitCountsEncodedForm(t *testing.T) {
	// 254 raw bytes become 256 once quoted, over the limit
	fields := map[string]any{"bio": strings.Repeat("v", 254)}

	_, err := encodeDocument(1, fields, false)

	AssertTrue(errors.Is(err, ErrorValueTooLong))
}

func TestCodec_CompressedSkipsFieldLimits(t *testing.T) {
	fields := map[string]any{"bio": strings.Repeat("v", 1000)}

	record, err := encodeDocument(1, fields, true)
	AssertNil(err)

	doc, err := decodeDocument(record[sizeLen:], true)
	AssertNil(err)
	AssertEqual(doc.Fields, fields)
}

func TestCodec_PeekMeta(t *testing.T) {
	record, err := encodeDocument(21, map[string]any{"a": 1, "b": 2, "c": 3}, false)
	AssertNil(err)

	meta, err := peekMeta(record[sizeLen:], false)
	AssertNil(err)
	AssertEqual(meta.ID, DocID(21))
	AssertEqual(meta.FieldCount, 3)
	AssertFalse(meta.Tombstone)

	meta, err = peekMeta(encodeTombstone(21)[sizeLen:], false)
	AssertNil(err)
	AssertTrue(meta.Tombstone)
	AssertEqual(meta.FieldCount, 0)
}

func TestCodec_PeekMetaCompressed(t *testing.T) {
	record, err := encodeDocument(4, map[string]any{"a": 1}, true)
	AssertNil(err)

	meta, err := peekMeta(record[sizeLen:], true)

	AssertNil(err)
	AssertEqual(meta.ID, DocID(4))
	AssertEqual(meta.FieldCount, -1)
	AssertFalse(meta.Tombstone)
}

func TestCodec_LegacyRawStringValues(t *testing.T) {
	// files written before values were JSON-encoded hold raw bytes
	body := []byte{
		0x05, 0x00, 0x00, 0x00, // id 5
		0x04, 'c', 'i', 't', 'y',
		0x05, 'P', 'o', 'r', 't', 'o',
	}

	doc, err := decodeDocument(body, false)

	AssertNil(err)
	AssertEqual(doc.Fields["city"], "Porto")
}

func TestCodec_TruncatedPayload(t *testing.T) {
	record, err := encodeDocument(1, map[string]any{"name": "Alice"}, false)
	AssertNil(err)

	_, err = decodeDocument(record[sizeLen:len(record)-2], false)

	AssertTrue(errors.Is(err, ErrorTruncated))
}

func TestFooter_RoundTrip(t *testing.T) {
	index := map[DocID]int64{
		1: 0,
		3: 120,
		9: 1 << 33, // needs the high offset word
	}

	footer := encodeFooter(index)
	decoded, err := decodeFooter(footer, 1<<34)

	AssertNil(err)
	AssertEqual(decoded, index)
}

func TestFooter_RejectsCorruption(t *testing.T) {
	footer := encodeFooter(map[DocID]int64{1: 0})

	mangled := append([]byte{}, footer...)
	mangled[0] = 'X'
	_, err := decodeFooter(mangled, 100)
	AssertNotNil(err)

	mangled = append([]byte{}, footer...)
	mangled[footerMagicLen] = 99 // unsupported version
	_, err = decodeFooter(mangled, 100)
	AssertNotNil(err)

	_, err = decodeFooter(footer[:len(footer)-1], 100)
	AssertNotNil(err)

	// entry offset beyond the data region
	_, err = decodeFooter(encodeFooter(map[DocID]int64{1: 5000}), 100)
	AssertNotNil(err)
}
