package layout

import (
	"testing"

	"github.com/matryer/is"
)

func TestFlatOmitPrefix(t *testing.T) {
	is := is.New(t)
	l := FlatOmitPrefix{Delimiter: ":"}
	got, err := l.Resolve("namespace:12345/abc")
	is.NoErr(err)
	is.Equal(got, "12345/abc")

	_, err = l.Resolve("no-delimiter-here")
	is.NoErr(err) // no delimiter means the whole id is used verbatim

	_, err = (FlatOmitPrefix{Delimiter: ":"}).Resolve("prefix:")
	is.True(err != nil) // empty result after the delimiter is rejected
}

func TestTupleOmitPrefixPadding(t *testing.T) {
	is := is.New(t)
	l := TupleOmitPrefix{Delimiter: ":", TupleSize: 3, TupleNum: 3, Padding: "left"}
	got, err := l.Resolve("ns:7")
	is.NoErr(err)
	is.Equal(got, "000/000/007/7")
}
