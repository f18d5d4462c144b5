package storage

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/duskdb/duskdb/dberr"
)

// FieldType tags the BSON-like value carried by a Field (spec §9: every
// stored value is one of these tagged kinds).
type FieldType byte

const (
	FieldNull     FieldType = 0
	FieldBool     FieldType = 1
	FieldInt32    FieldType = 2
	FieldInt64    FieldType = 3
	FieldFloat64  FieldType = 4
	FieldString   FieldType = 5
	FieldBinary   FieldType = 6
	FieldObjectID FieldType = 7
	FieldGuid     FieldType = 8
	FieldDateTime FieldType = 9
	FieldDocument FieldType = 10
	FieldArray    FieldType = 11
	FieldVector   FieldType = 12
	FieldMinValue FieldType = 13
	FieldMaxValue FieldType = 14
)

// ObjectID is a 12-byte identifier: a 4-byte Unix-second timestamp followed
// by 8 bytes of randomness, distinct from the 16-byte Guid kind.
type ObjectID [12]byte

// NewObjectID mints a fresh, time-ordered ObjectID.
func NewObjectID() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	rand.Read(id[4:])
	return id
}

// MinValue and MaxValue are singleton sentinel values that sort below/above
// every other value kind, used by range-scan boundary queries.
type minValueT struct{}
type maxValueT struct{}

var MinValue = minValueT{}
var MaxValue = maxValueT{}

// Field is one named slot in a Document.
type Field struct {
	Name  string
	Type  FieldType
	Value interface{}
}

// Document is an ordered set of named fields, the unit of storage and the
// unit of query evaluation.
type Document struct {
	Fields []Field
}

// NewDocument returns an empty document.
func NewDocument() *Document { return &Document{} }

// Set adds or overwrites a field, inferring its FieldType from value's Go
// type. Supported Go types: nil, bool, int32, int, int64, float64, string,
// []byte, ObjectID, uuid.UUID, time.Time, *Document, []interface{},
// []float32 (vector), minValueT, maxValueT.
func (d *Document) Set(name string, value interface{}) {
	t, v := inferType(value)
	for i, f := range d.Fields {
		if f.Name == name {
			d.Fields[i].Type, d.Fields[i].Value = t, v
			return
		}
	}
	d.Fields = append(d.Fields, Field{Name: name, Type: t, Value: v})
}

// Get returns a field's value, or ok=false if absent.
func (d *Document) Get(name string) (interface{}, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// GetNested resolves a dotted path ("$.a.b" split into ["a","b"]) through
// nested documents.
func (d *Document) GetNested(path []string) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}
	val, ok := d.Get(path[0])
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return val, true
	}
	sub, ok := val.(*Document)
	if !ok {
		return nil, false
	}
	return sub.GetNested(path[1:])
}

// SetNested writes a dotted path, creating intermediate sub-documents.
func (d *Document) SetNested(path []string, value interface{}) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		d.Set(path[0], value)
		return
	}
	val, ok := d.Get(path[0])
	var sub *Document
	if ok {
		sub, ok = val.(*Document)
	}
	if !ok {
		sub = NewDocument()
		d.Set(path[0], sub)
	}
	sub.SetNested(path[1:], value)
}

// SortedKeys returns field names in stable lexical order, used by Schema
// introspection and by deterministic Dump output.
func (d *Document) SortedKeys() []string {
	keys := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		keys[i] = f.Name
	}
	sort.Strings(keys)
	return keys
}

func inferType(value interface{}) (FieldType, interface{}) {
	switch v := value.(type) {
	case nil:
		return FieldNull, nil
	case bool:
		return FieldBool, v
	case int32:
		return FieldInt32, v
	case int:
		return FieldInt64, int64(v)
	case int64:
		return FieldInt64, v
	case float64:
		return FieldFloat64, v
	case string:
		return FieldString, v
	case []byte:
		return FieldBinary, v
	case ObjectID:
		return FieldObjectID, v
	case uuid.UUID:
		return FieldGuid, v
	case time.Time:
		return FieldDateTime, v
	case *Document:
		return FieldDocument, v
	case []interface{}:
		return FieldArray, v
	case []float32:
		return FieldVector, v
	case minValueT:
		return FieldMinValue, v
	case maxValueT:
		return FieldMaxValue, v
	default:
		return FieldNull, nil
	}
}

// Encode serializes the document as:
// [field_count:u16] then per field [name_len:u16][name][type:byte][value].
func (d *Document) Encode() ([]byte, error) {
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 8)

	binary.LittleEndian.PutUint16(tmp, uint16(len(d.Fields)))
	buf = append(buf, tmp[:2]...)

	for _, f := range d.Fields {
		nameBytes := []byte(f.Name)
		if len(nameBytes) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: field name too long: %s", dberr.ErrValidation, f.Name)
		}
		binary.LittleEndian.PutUint16(tmp, uint16(len(nameBytes)))
		buf = append(buf, tmp[:2]...)
		buf = append(buf, nameBytes...)
		buf = append(buf, byte(f.Type))

		valBytes, err := encodeValue(f.Type, f.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	return buf, nil
}

// Decode deserializes a document produced by Encode.
func Decode(data []byte) (*Document, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: document data too short", dberr.ErrCorruption)
	}
	doc := NewDocument()
	offset := 0

	nbFields := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	for i := 0; i < nbFields; i++ {
		if offset+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated document (name len)", dberr.ErrCorruption)
		}
		nameLen := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2

		if offset+nameLen > len(data) {
			return nil, fmt.Errorf("%w: truncated document (name)", dberr.ErrCorruption)
		}
		name := string(data[offset : offset+nameLen])
		offset += nameLen

		if offset >= len(data) {
			return nil, fmt.Errorf("%w: truncated document (type)", dberr.ErrCorruption)
		}
		ftype := FieldType(data[offset])
		offset++

		val, n, err := decodeValue(ftype, data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		doc.Fields = append(doc.Fields, Field{Name: name, Type: ftype, Value: val})
	}
	return doc, nil
}

func encodeValue(t FieldType, v interface{}) ([]byte, error) {
	switch t {
	case FieldNull, FieldMinValue, FieldMaxValue:
		return nil, nil
	case FieldBool:
		if v.(bool) {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case FieldInt32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v.(int32)))
		return buf, nil
	case FieldInt64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v.(int64)))
		return buf, nil
	case FieldFloat64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.(float64)))
		return buf, nil
	case FieldDateTime:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v.(time.Time).UnixNano()))
		return buf, nil
	case FieldString:
		s := v.(string)
		buf := make([]byte, 4+len(s))
		binary.LittleEndian.PutUint32(buf, uint32(len(s)))
		copy(buf[4:], s)
		return buf, nil
	case FieldBinary:
		b := v.([]byte)
		buf := make([]byte, 4+len(b))
		binary.LittleEndian.PutUint32(buf, uint32(len(b)))
		copy(buf[4:], b)
		return buf, nil
	case FieldObjectID:
		id := v.(ObjectID)
		return append([]byte(nil), id[:]...), nil
	case FieldGuid:
		g := v.(uuid.UUID)
		return append([]byte(nil), g[:]...), nil
	case FieldDocument:
		sub := v.(*Document)
		encoded, err := sub.Encode()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4+len(encoded))
		binary.LittleEndian.PutUint32(buf, uint32(len(encoded)))
		copy(buf[4:], encoded)
		return buf, nil
	case FieldArray:
		arr := v.([]interface{})
		inner := make([]byte, 0, 64)
		tmp := make([]byte, 2)
		binary.LittleEndian.PutUint16(tmp, uint16(len(arr)))
		inner = append(inner, tmp...)
		for _, elem := range arr {
			et, ev := inferType(elem)
			inner = append(inner, byte(et))
			eb, err := encodeValue(et, ev)
			if err != nil {
				return nil, err
			}
			inner = append(inner, eb...)
		}
		buf := make([]byte, 4+len(inner))
		binary.LittleEndian.PutUint32(buf, uint32(len(inner)))
		copy(buf[4:], inner)
		return buf, nil
	case FieldVector:
		vec := v.([]float32)
		buf := make([]byte, 4+4*len(vec))
		binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
		for i, f := range vec {
			binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(f))
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: unknown field type %d", dberr.ErrCorruption, t)
	}
}

func decodeValue(t FieldType, data []byte) (interface{}, int, error) {
	need := func(n int) error {
		if len(data) < n {
			return fmt.Errorf("%w: truncated value of type %d", dberr.ErrCorruption, t)
		}
		return nil
	}
	switch t {
	case FieldNull:
		return nil, 0, nil
	case FieldMinValue:
		return MinValue, 0, nil
	case FieldMaxValue:
		return MaxValue, 0, nil
	case FieldBool:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return data[0] != 0, 1, nil
	case FieldInt32:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return int32(binary.LittleEndian.Uint32(data)), 4, nil
	case FieldInt64:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return int64(binary.LittleEndian.Uint64(data)), 8, nil
	case FieldFloat64:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8, nil
	case FieldDateTime:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return time.Unix(0, int64(binary.LittleEndian.Uint64(data))).UTC(), 8, nil
	case FieldString:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		slen := int(binary.LittleEndian.Uint32(data))
		if err := need(4 + slen); err != nil {
			return nil, 0, err
		}
		return string(data[4 : 4+slen]), 4 + slen, nil
	case FieldBinary:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		blen := int(binary.LittleEndian.Uint32(data))
		if err := need(4 + blen); err != nil {
			return nil, 0, err
		}
		out := append([]byte(nil), data[4:4+blen]...)
		return out, 4 + blen, nil
	case FieldObjectID:
		if err := need(12); err != nil {
			return nil, 0, err
		}
		var id ObjectID
		copy(id[:], data[:12])
		return id, 12, nil
	case FieldGuid:
		if err := need(16); err != nil {
			return nil, 0, err
		}
		g, err := uuid.FromBytes(data[:16])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", dberr.ErrCorruption, err)
		}
		return g, 16, nil
	case FieldDocument:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		dlen := int(binary.LittleEndian.Uint32(data))
		if err := need(4 + dlen); err != nil {
			return nil, 0, err
		}
		sub, err := Decode(data[4 : 4+dlen])
		if err != nil {
			return nil, 0, err
		}
		return sub, 4 + dlen, nil
	case FieldArray:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		alen := int(binary.LittleEndian.Uint32(data))
		if err := need(4 + alen); err != nil {
			return nil, 0, err
		}
		arrData := data[4 : 4+alen]
		if len(arrData) < 2 {
			return []interface{}{}, 4 + alen, nil
		}
		count := int(binary.LittleEndian.Uint16(arrData))
		aoff := 2
		arr := make([]interface{}, 0, count)
		for i := 0; i < count; i++ {
			if aoff >= len(arrData) {
				return nil, 0, fmt.Errorf("%w: truncated array element", dberr.ErrCorruption)
			}
			et := FieldType(arrData[aoff])
			aoff++
			ev, n, err := decodeValue(et, arrData[aoff:])
			if err != nil {
				return nil, 0, err
			}
			aoff += n
			arr = append(arr, ev)
		}
		return arr, 4 + alen, nil
	case FieldVector:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		count := int(binary.LittleEndian.Uint32(data))
		need2 := 4 + 4*count
		if err := need(need2); err != nil {
			return nil, 0, err
		}
		vec := make([]float32, count)
		for i := 0; i < count; i++ {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
		}
		return vec, need2, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown field type %d", dberr.ErrCorruption, t)
	}
}
