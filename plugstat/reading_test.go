package plugstat

import (
	"errors"
	"io"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMemReader(t *testing.T) {
	c := qt.New(t)
	rs := []Reading{at(0, 1), at(10, 2)}
	r := NewMemReader(rs)
	got, err := ReadAll(r)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, rs)

	_, err = r.ReadReading()
	c.Assert(err, qt.Equals, io.EOF)
}

type errReader struct {
	n int
}

func (r *errReader) ReadReading() (Reading, error) {
	if r.n == 0 {
		return Reading{}, errors.New("bad reading")
	}
	r.n--
	return at(0, 1), nil
}

func TestReadAllError(t *testing.T) {
	c := qt.New(t)
	rs, err := ReadAll(&errReader{n: 2})
	c.Assert(err, qt.ErrorMatches, "bad reading")
	c.Assert(rs, qt.HasLen, 2)
}
