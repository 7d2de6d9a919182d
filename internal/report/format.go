package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

const fieldSep = ", "

// AppendLine appends the report line for r, without a trailing newline.
//
//	<block hex>, <executions>, <taken>, <fallthroughs or 0>[, <<target hex>, <count>>]...
func (r Row) AppendLine(dst []byte) []byte {
	dst = strconv.AppendUint(dst, uint64(r.Block), 16)
	dst = append(dst, fieldSep...)
	dst = strconv.AppendUint(dst, r.Executions, 10)
	dst = append(dst, fieldSep...)
	dst = strconv.AppendUint(dst, r.Taken, 10)
	dst = append(dst, fieldSep...)
	dst = strconv.AppendUint(dst, r.Fallthroughs, 10)

	for _, t := range r.Targets {
		dst = append(dst, fieldSep...)
		dst = append(dst, '<')
		dst = strconv.AppendUint(dst, t.Target, 16)
		dst = append(dst, fieldSep...)
		dst = strconv.AppendUint(dst, t.Count, 10)
		dst = append(dst, '>')
	}

	return dst
}

// String returns the report line for r.
func (r Row) String() string {
	return string(r.AppendLine(nil))
}

// Write writes one line per row to w.
func Write(w io.Writer, rows []Row) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	line := make([]byte, 0, 256)

	for i, r := range rows {
		line = r.AppendLine(line[:0])
		line = append(line, '\n')

		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing report: %w", err)
	}

	return nil
}
