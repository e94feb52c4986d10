package store

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/pkg/errors"

	"github.com/RethinkEngine/rethinkengine"
)

var (
	ErrDocCorrupt = errors.New("store: corrupt document record")
	ErrDocValue   = errors.New("store: value kind not storable")
)

// Value record types. Field names travel as 'K' records, the checksum
// as a trailing 'H' record.
const (
	litKey    = 'K'
	litNull   = 'N'
	litBool   = 'B'
	litString = 'S'
	litInt    = 'I'
	litFloat  = 'F'
	litTime   = 'T'
	litJSON   = 'J'
	litHash   = 'H'
)

// EncodeDoc serializes a wire document as a TLV record batch:
// alternating 'K' (field name) and typed value records in lexicographic
// key order, closed by an 'H' record carrying the xxhash of everything
// before it. Sorted keys make the encoding canonical, so equal
// documents encode to equal bytes.
func EncodeDoc(doc rethinkengine.D) ([]byte, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	recs := make(toyqueue.Records, 0, len(doc)*2+1)
	for _, k := range keys {
		rec, err := appendValue(doc[k])
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", k)
		}
		recs = append(recs, toytlv.Record(litKey, []byte(k)), rec)
	}
	payload := toytlv.Concat(recs...)
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(payload))
	return append(payload, toytlv.Record(litHash, sum[:])...), nil
}

// DecodeDoc parses an encoded document and verifies its checksum.
// Anything that fails to parse back to the shape EncodeDoc produces,
// checksum record included, is ErrDocCorrupt.
func DecodeDoc(data []byte) (rethinkengine.D, error) {
	doc := make(rethinkengine.D)
	rest := data
	for len(rest) > 0 {
		sofar := len(data) - len(rest)
		lit, body, next, err := toytlv.TakeAnyWary(rest)
		if err != nil || body == nil {
			return nil, ErrDocCorrupt
		}
		if lit == litHash {
			if len(body) != 8 || len(next) != 0 {
				return nil, ErrDocCorrupt
			}
			if binary.BigEndian.Uint64(body) != xxhash.Sum64(data[:sofar]) {
				return nil, ErrDocCorrupt
			}
			return doc, nil
		}
		if lit != litKey {
			return nil, ErrDocCorrupt
		}
		name := string(body)
		vlit, vbody, vnext, err := toytlv.TakeAnyWary(next)
		if err != nil || vbody == nil {
			return nil, ErrDocCorrupt
		}
		v, err := decodeValue(vlit, vbody)
		if err != nil {
			return nil, err
		}
		doc[name] = v
		rest = vnext
	}
	// ran out of records without meeting the checksum
	return nil, ErrDocCorrupt
}

func appendValue(v any) ([]byte, error) {
	switch t := normValue(v).(type) {
	case nil:
		return toytlv.Record(litNull), nil
	case bool:
		b := byte(0)
		if t {
			b = 1
		}
		return toytlv.Record(litBool, []byte{b}), nil
	case string:
		return toytlv.Record(litString, []byte(t)), nil
	case int64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(t))
		return toytlv.Record(litInt, buf[:]), nil
	case float64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(t))
		return toytlv.Record(litFloat, buf[:]), nil
	case time.Time:
		return toytlv.Record(litTime, []byte(t.UTC().Format(time.RFC3339Nano))), nil
	default:
		jsn, err := json.Marshal(t)
		if err != nil {
			return nil, errors.Wrap(ErrDocValue, err.Error())
		}
		return toytlv.Record(litJSON, jsn), nil
	}
}

func decodeValue(lit byte, body []byte) (any, error) {
	switch lit {
	case litNull:
		if len(body) != 0 {
			return nil, ErrDocCorrupt
		}
		return nil, nil
	case litBool:
		if len(body) != 1 {
			return nil, ErrDocCorrupt
		}
		return body[0] != 0, nil
	case litString:
		return string(body), nil
	case litInt:
		if len(body) != 8 {
			return nil, ErrDocCorrupt
		}
		return int64(binary.BigEndian.Uint64(body)), nil
	case litFloat:
		if len(body) != 8 {
			return nil, ErrDocCorrupt
		}
		return math.Float64frombits(binary.BigEndian.Uint64(body)), nil
	case litTime:
		t, err := time.Parse(time.RFC3339Nano, string(body))
		if err != nil {
			return nil, ErrDocCorrupt
		}
		return t.UTC(), nil
	case litJSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, ErrDocCorrupt
		}
		return v, nil
	}
	return nil, ErrDocCorrupt
}

// normValue folds the integer and float flavors a caller may hand in
// onto the two numeric shapes the codec stores.
func normValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	}
	return v
}
