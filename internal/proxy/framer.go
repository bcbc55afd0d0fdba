package proxy

import "bytes"

// LineFramer accumulates arbitrary byte chunks from one socket and
// yields complete lines. A line is terminated by LF, optionally
// preceded by CR; the terminator is stripped. A lone CR does not end a
// line. Partial trailing bytes stay buffered until more data arrives.
type LineFramer struct {
	buf []byte
}

// Feed appends a chunk and returns every complete line it closed, in order.
func (f *LineFramer) Feed(p []byte) []string {
	f.buf = append(f.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := f.buf[:i]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		lines = append(lines, string(line))
		f.buf = append([]byte(nil), f.buf[i+1:]...)
	}
	return lines
}

// Pending returns the number of buffered bytes not yet forming a line.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}
