package pack

import (
	"encoding/binary"
	"errors"
	"fmt"

	json2 "github.com/go-json-experiment/json"
	"github.com/golang/snappy"

	"github.com/zpackdb/zpack/utils"
)

// DocID is the physical document id. Within one file ids never repeat and
// only increase.
type DocID uint32

// Document is one decoded record. Nil or empty Fields means the record is a
// tombstone for ID.
type Document struct {
	ID     DocID
	Fields map[string]any
}

// Tombstone reports whether the record marks a deletion.
func (d Document) Tombstone() bool {
	return len(d.Fields) == 0
}

// Meta is the cheap header view of a record body, extracted without decoding
// field values.
type Meta struct {
	ID DocID

	// FieldCount is exact for field-framed payloads and -1 for compressed
	// payloads, where counting would require decompression.
	FieldCount int

	Tombstone bool
}

// Record layout:
//
//	u16 payloadSize | u32 docId | payload
//
// payloadSize counts the doc id plus the payload. A payloadSize of exactly 4
// (id only, zero fields) is a tombstone. Non-compressed payloads are repeated
// (u8 keyLen, key, u8 valLen, value) frames with the value rendered to its
// canonical JSON form; compressed payloads are one snappy block holding the
// JSON object. All fixed-width integers are little-endian.
const (
	sizeLen   = 2
	idLen     = 4
	headerLen = sizeLen + idLen

	maxFieldLen   = 255
	maxPayloadLen = 1<<16 - 1
)

var (
	ErrorKeyTooLong    = errors.New("key exceeds 255 bytes")
	ErrorValueTooLong  = errors.New("value exceeds 255 bytes")
	ErrorRecordTooLong = errors.New("record exceeds payload capacity")
	ErrorTruncated     = errors.New("truncated record")
)

// encodeDocument renders one framed record ready to append. Zero fields
// degrade to a tombstone, which is exactly how the layout represents them.
func encodeDocument(id DocID, fields map[string]any, compression bool) ([]byte, error) {
	if len(fields) == 0 {
		return encodeTombstone(id), nil
	}

	var payload []byte
	var err error
	if compression {
		payload, err = encodeCompressed(fields)
	} else {
		payload, err = encodeFields(fields)
	}
	if err != nil {
		return nil, err
	}

	if idLen+len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrorRecordTooLong, idLen+len(payload))
	}

	record := make([]byte, headerLen+len(payload))
	binary.LittleEndian.PutUint16(record[0:], uint16(idLen+len(payload)))
	binary.LittleEndian.PutUint32(record[sizeLen:], uint32(id))
	copy(record[headerLen:], payload)

	return record, nil
}

// encodeTombstone renders the deletion marker for id.
func encodeTombstone(id DocID) []byte {
	record := make([]byte, headerLen)
	binary.LittleEndian.PutUint16(record[0:], uint16(idLen))
	binary.LittleEndian.PutUint32(record[sizeLen:], uint32(id))
	return record
}

func encodeFields(fields map[string]any) ([]byte, error) {
	payload := []byte{}
	for _, key := range utils.GetKeys(fields) {
		if len(key) > maxFieldLen {
			return nil, fmt.Errorf("%w: key %q is %d bytes", ErrorKeyTooLong, key[:16]+"...", len(key))
		}
		value, err := encodeValue(fields[key])
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", key, err)
		}
		if len(value) > maxFieldLen {
			return nil, fmt.Errorf("%w: field %q is %d bytes", ErrorValueTooLong, key, len(value))
		}
		payload = append(payload, byte(len(key)))
		payload = append(payload, key...)
		payload = append(payload, byte(len(value)))
		payload = append(payload, value...)
	}
	return payload, nil
}

func encodeCompressed(fields map[string]any) ([]byte, error) {
	blob, err := json2.Marshal(fields, json2.Deterministic(true))
	if err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}
	return snappy.Encode(nil, blob), nil
}

// decodeDocument decodes a record body (the payloadSize bytes after the size
// header: doc id plus payload).
func decodeDocument(body []byte, compression bool) (Document, error) {
	if len(body) < idLen {
		return Document{}, ErrorTruncated
	}

	doc := Document{
		ID: DocID(binary.LittleEndian.Uint32(body)),
	}
	payload := body[idLen:]
	if len(payload) == 0 {
		return doc, nil // tombstone
	}

	var err error
	if compression {
		doc.Fields, err = decodeCompressed(payload)
	} else {
		doc.Fields, err = decodeFields(payload)
	}
	if err != nil {
		return Document{}, err
	}

	return doc, nil
}

func decodeFields(payload []byte) (map[string]any, error) {
	fields := map[string]any{}
	i := 0
	for i < len(payload) {
		keyLen := int(payload[i])
		i++
		if i+keyLen > len(payload) {
			return nil, fmt.Errorf("%w: key overruns payload", ErrorTruncated)
		}
		key := string(payload[i : i+keyLen])
		i += keyLen

		if i >= len(payload) {
			return nil, fmt.Errorf("%w: missing value length", ErrorTruncated)
		}
		valueLen := int(payload[i])
		i++
		if i+valueLen > len(payload) {
			return nil, fmt.Errorf("%w: value overruns payload", ErrorTruncated)
		}
		fields[key] = decodeValue(payload[i : i+valueLen])
		i += valueLen
	}
	return fields, nil
}

func decodeCompressed(payload []byte) (map[string]any, error) {
	blob, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("decompress document: %w", err)
	}
	fields := map[string]any{}
	err = json2.Unmarshal(blob, &fields)
	if err != nil {
		return nil, fmt.Errorf("deserialize document: %w", err)
	}
	return fields, nil
}

// peekMeta extracts id and shape from a record body without decoding values.
func peekMeta(body []byte, compression bool) (Meta, error) {
	if len(body) < idLen {
		return Meta{}, ErrorTruncated
	}

	meta := Meta{
		ID: DocID(binary.LittleEndian.Uint32(body)),
	}
	payload := body[idLen:]
	if len(payload) == 0 {
		meta.Tombstone = true
		return meta, nil
	}

	if compression {
		meta.FieldCount = -1
		return meta, nil
	}

	i := 0
	for i < len(payload) {
		keyLen := int(payload[i])
		i++
		if i+keyLen >= len(payload) {
			return Meta{}, fmt.Errorf("%w: key overruns payload", ErrorTruncated)
		}
		i += keyLen
		valueLen := int(payload[i])
		i++
		if i+valueLen > len(payload) {
			return Meta{}, fmt.Errorf("%w: value overruns payload", ErrorTruncated)
		}
		i += valueLen
		meta.FieldCount++
	}
	return meta, nil
}

// encodeValue renders a field value to its canonical JSON form. The byte
// framing around it is unchanged from files that stored raw strings;
// decodeValue keeps accepting those.
func encodeValue(v any) ([]byte, error) {
	return json2.Marshal(v, json2.Deterministic(true))
}

func decodeValue(b []byte) any {
	var v any
	err := json2.Unmarshal(b, &v)
	if err != nil {
		return string(b)
	}
	return v
}
