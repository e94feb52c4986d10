package store

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/stretchr/testify/assert"

	"github.com/RethinkEngine/rethinkengine"
)

func TestDocCodec_RoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 17, 9, 30, 0, 123456789, time.FixedZone("CEST", 2*3600))
	in := rethinkengine.D{
		"id":     "post-1",
		"title":  "naïve title",
		"views":  int64(1337),
		"rating": 4.5,
		"draft":  false,
		"tags":   []any{"go", "tlv"},
		"meta":   map[string]any{"lang": "en"},
		"at":     at,
		"gone":   nil,
	}
	enc, err := EncodeDoc(in)
	assert.Nil(t, err)
	out, err := DecodeDoc(enc)
	assert.Nil(t, err)

	want := rethinkengine.D{
		"id":     "post-1",
		"title":  "naïve title",
		"views":  int64(1337),
		"rating": 4.5,
		"draft":  false,
		"tags":   []any{"go", "tlv"},
		"meta":   map[string]any{"lang": "en"},
		"at":     at.UTC(),
		"gone":   nil,
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("document changed across the codec (-want +got):\n%s", diff)
	}
}

func TestDocCodec_Canonical(t *testing.T) {
	a, err := EncodeDoc(rethinkengine.D{"x": int64(1), "y": "two", "z": true})
	assert.Nil(t, err)
	b, err := EncodeDoc(rethinkengine.D{"z": true, "y": "two", "x": 1})
	assert.Nil(t, err)
	assert.Equal(t, a, b)
}

func TestDocCodec_NumericFold(t *testing.T) {
	enc, err := EncodeDoc(rethinkengine.D{
		"i": 42, "u": uint8(7), "f": float32(2.5),
	})
	assert.Nil(t, err)
	out, err := DecodeDoc(enc)
	assert.Nil(t, err)
	assert.Equal(t, int64(42), out["i"])
	assert.Equal(t, int64(7), out["u"])
	assert.Equal(t, float64(2.5), out["f"])
}

func TestDocCodec_EmptyDoc(t *testing.T) {
	enc, err := EncodeDoc(rethinkengine.D{})
	assert.Nil(t, err)
	out, err := DecodeDoc(enc)
	assert.Nil(t, err)
	assert.Empty(t, out)
}

func TestDocCodec_Unstorable(t *testing.T) {
	_, err := EncodeDoc(rethinkengine.D{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrDocValue)
}

func TestDocCodec_Corrupt(t *testing.T) {
	enc, err := EncodeDoc(rethinkengine.D{"id": "p1", "n": int64(9)})
	assert.Nil(t, err)

	_, err = DecodeDoc(nil)
	assert.ErrorIs(t, err, ErrDocCorrupt)

	_, err = DecodeDoc(enc[:len(enc)-1])
	assert.ErrorIs(t, err, ErrDocCorrupt)

	flipped := append([]byte{}, enc...)
	flipped[len(flipped)-1] ^= 0xff
	_, err = DecodeDoc(flipped)
	assert.ErrorIs(t, err, ErrDocCorrupt)

	trailing := append(append([]byte{}, enc...), toytlv.Record(litNull)...)
	_, err = DecodeDoc(trailing)
	assert.ErrorIs(t, err, ErrDocCorrupt)

	// records but no checksum at the end
	unhashed := toytlv.Concat(
		toytlv.Record(litKey, []byte("a")),
		toytlv.Record(litString, []byte("b")),
	)
	_, err = DecodeDoc(unhashed)
	assert.ErrorIs(t, err, ErrDocCorrupt)

	// a value record where a key should be
	keyless := toytlv.Record(litString, []byte("b"))
	_, err = DecodeDoc(keyless)
	assert.ErrorIs(t, err, ErrDocCorrupt)

	// integer body of the wrong width
	badInt := toytlv.Concat(
		toytlv.Record(litKey, []byte("n")),
		toytlv.Record(litInt, []byte{1, 2, 3}),
	)
	_, err = DecodeDoc(badInt)
	assert.ErrorIs(t, err, ErrDocCorrupt)
}
