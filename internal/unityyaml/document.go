package unityyaml

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"
)

// Document is one tagged section of a Unity asset file:
//
//	--- !u!<classId> &<fileId>
//	<RootMapping>
//
// Body holds the raw YAML of the root mapping, header excluded.
type Document struct {
	ClassID int
	FileID  int64
	Body    []byte
}

// docHeader matches Unity's tagged document separator, tolerating the
// optional "stripped" suffix prefab instances carry.
var docHeader = regexp.MustCompile(`^--- !u!(\d+) &(-?\d+)`)

// SplitDocuments streams documents off r one at a time, invoking emit for
// each. Only a single document body is resident at any moment, which is what
// keeps large scene files out of memory. Directives (%YAML, %TAG) and any
// preamble before the first header are skipped.
func SplitDocuments(r io.Reader, emit func(Document) error) error {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}

	var (
		current  *Document
		body     bytes.Buffer
		flushErr error
	)

	flush := func() error {
		if current == nil {
			return nil
		}
		doc := *current
		doc.Body = append([]byte(nil), body.Bytes()...)
		current = nil
		body.Reset()
		return emit(doc)
	}

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if m := docHeader.FindSubmatch(line); m != nil {
				if flushErr = flush(); flushErr != nil {
					return flushErr
				}
				classID, _ := strconv.Atoi(string(m[1]))
				fileID, _ := strconv.ParseInt(string(m[2]), 10, 64)
				current = &Document{ClassID: classID, FileID: fileID}
			} else if current != nil {
				body.Write(line)
			}
			// Lines before the first header (directives) fall through.
		}
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			return err
		}
	}
}
