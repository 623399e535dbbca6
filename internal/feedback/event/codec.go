package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const linePrefix = "data: "

// EncodeLine renders one event as a wire line: `data: ` followed by the JSON
// object and a trailing newline.
func EncodeLine(evt Event) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", evt.EventType(), err)
	}
	line := make([]byte, 0, len(linePrefix)+len(payload)+1)
	line = append(line, linePrefix...)
	line = append(line, payload...)
	line = append(line, '\n')
	return line, nil
}

// LineDecoder incrementally parses a `data: `-prefixed event stream. Chunks
// may split lines at arbitrary byte boundaries; an incomplete trailing line
// is buffered until the rest arrives. Lines without the prefix are ignored.
type LineDecoder struct {
	buf bytes.Buffer
}

// Feed consumes the next chunk and returns every event completed by it.
// Malformed prefixed lines produce an error after all parseable events of
// the chunk have been returned.
func (d *LineDecoder) Feed(chunk []byte) ([]Event, error) {
	d.buf.Write(chunk)

	var (
		events   []Event
		firstErr error
	)
	for {
		raw := d.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, raw[:idx])
		d.buf.Next(idx + 1)

		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, []byte(linePrefix)) {
			continue
		}
		evt, err := Decode(bytes.TrimPrefix(line, []byte(linePrefix)))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		events = append(events, evt)
	}
	return events, firstErr
}
