package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramer_LFTerminatesLine(t *testing.T) {
	f := &LineFramer{}
	lines := f.Feed([]byte("hello\n"))
	assert.Equal(t, []string{"hello"}, lines)
	assert.Equal(t, 0, f.Pending())
}

func TestFramer_CRLFTerminatesSameLine(t *testing.T) {
	f := &LineFramer{}
	lines := f.Feed([]byte("hello\r\n"))
	assert.Equal(t, []string{"hello"}, lines)
}

func TestFramer_LoneCRDoesNotTerminate(t *testing.T) {
	f := &LineFramer{}
	lines := f.Feed([]byte("hel\rlo"))
	assert.Empty(t, lines)
	assert.Equal(t, 6, f.Pending())

	// The CR in the middle of the line is payload, not a terminator.
	lines = f.Feed([]byte("\n"))
	assert.Equal(t, []string{"hel\rlo"}, lines)
}

func TestFramer_PartialBytesStayBuffered(t *testing.T) {
	f := &LineFramer{}
	assert.Empty(t, f.Feed([]byte("hel")))
	assert.Equal(t, 3, f.Pending())

	lines := f.Feed([]byte("lo\nwor"))
	assert.Equal(t, []string{"hello"}, lines)
	assert.Equal(t, 3, f.Pending())

	lines = f.Feed([]byte("ld\r\n"))
	assert.Equal(t, []string{"world"}, lines)
	assert.Equal(t, 0, f.Pending())
}

func TestFramer_MultipleLinesInOneChunk(t *testing.T) {
	f := &LineFramer{}
	lines := f.Feed([]byte("one\ntwo\r\nthree\n"))
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestFramer_EmptyLines(t *testing.T) {
	f := &LineFramer{}
	lines := f.Feed([]byte("\n\r\n"))
	assert.Equal(t, []string{"", ""}, lines)
}
