package process

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// lineReader yields newline-delimited lines capped at limit bytes. Longer
// lines are consumed in full and reported as oversized so the stream keeps
// flowing.
type lineReader struct {
	r     *bufio.Reader
	limit int
}

func newLineReader(r io.Reader, limit int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 4096), limit: limit}
}

// next returns the next line without its terminator. A final unterminated
// line is returned together with io.EOF.
func (l *lineReader) next() (line string, oversized bool, err error) {
	var buf []byte
	for {
		chunk, readErr := l.r.ReadSlice('\n')
		if !oversized {
			buf = append(buf, chunk...)
			// Room for a "\r\n" terminator.
			if len(buf) > l.limit+2 {
				oversized = true
				buf = nil
			}
		}
		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		line = strings.TrimRight(string(buf), "\r\n")
		if oversized || len(line) > l.limit {
			return "", true, readErr
		}
		return line, false, readErr
	}
}
