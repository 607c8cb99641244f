package backlog

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"sensorlink-go/types"
)

// On-disk layout, one batch per record:
//
//	#<count>,<batch-id>,<taken-ms>,<checksum>
//	<port>,<value>,<description>     (count lines)
//
// checksum is the hex of the first 8 bytes of the BLAKE3 digest over the
// entry lines, newlines included. Files written before framing existed
// hold bare entry lines only.

const headerMark = '#'

func checksum(entries []byte) string {
	sum := blake3.Sum256(entries)
	return hex.EncodeToString(sum[:8])
}

func encodeEntry(buf *bytes.Buffer, e types.Entry) {
	buf.WriteString(e.Port)
	buf.WriteByte(',')
	buf.WriteString(e.Reading.String())
	buf.WriteByte(',')
	buf.WriteString(e.Description)
	buf.WriteByte('\n')
}

// encodeBatch renders one framed record.
func encodeBatch(b types.Batch) []byte {
	var body bytes.Buffer
	for _, e := range b.Entries {
		encodeEntry(&body, e)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "%c%d,%s,%d,%s\n", headerMark, len(b.Entries), b.ID, b.TakenMs, checksum(body.Bytes()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func parseEntry(line string) (types.Entry, error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return types.Entry{}, fmt.Errorf("entry %q: want 3 fields", line)
	}
	r, err := types.ParseReading(parts[1])
	if err != nil {
		return types.Entry{}, fmt.Errorf("entry %q: %w", line, err)
	}
	return types.Entry{Port: parts[0], Reading: r, Description: parts[2]}, nil
}

type header struct {
	count   int
	id      string
	takenMs int64
	sum     string
}

func parseHeader(line string) (header, error) {
	parts := strings.Split(line[1:], ",")
	if len(parts) != 4 {
		return header{}, fmt.Errorf("header %q: want 4 fields", line)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 0 {
		return header{}, fmt.Errorf("header %q: bad count", line)
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return header{}, fmt.Errorf("header %q: bad timestamp", line)
	}
	return header{count: n, id: parts[1], takenMs: ts, sum: parts[3]}, nil
}

// line is one newline-terminated line of the file; partial marks a final
// line with no terminator (an interrupted write).
type line struct {
	text       string
	start, end int // byte offsets, end past the newline
	partial    bool
}

func splitLines(data []byte) []line {
	var out []line
	off := 0
	for off < len(data) {
		i := bytes.IndexByte(data[off:], '\n')
		if i < 0 {
			out = append(out, line{text: string(data[off:]), start: off, end: len(data), partial: true})
			break
		}
		out = append(out, line{text: string(data[off : off+i]), start: off, end: off + i + 1})
		off += i + 1
	}
	return out
}

// record is one batch found in the file. A torn record spans bytes that
// must be skipped and never replayed.
type record struct {
	batch      types.Batch
	start, end int
	torn       bool
	legacy     bool
}

func isHeader(l line) bool { return len(l.text) > 0 && l.text[0] == headerMark }

// scan splits the file into records. fallback groups unframed lines.
func scan(data []byte, fallback int) []record {
	if fallback <= 0 {
		fallback = 1
	}
	lines := splitLines(data)
	var out []record
	for i := 0; i < len(lines); {
		l := lines[i]
		if l.partial {
			out = append(out, record{start: l.start, end: l.end, torn: true})
			break
		}
		if isHeader(l) {
			rec, next := scanFramed(lines, i)
			out = append(out, rec)
			i = next
			continue
		}
		rec, next := scanLegacy(lines, i, fallback)
		out = append(out, rec)
		i = next
	}
	return out
}

func scanFramed(lines []line, i int) (record, int) {
	h, err := parseHeader(lines[i].text)
	rec := record{start: lines[i].start, end: lines[i].end}
	// The count is trusted only as far as the lines that follow. A header
	// that does not parse still owns the entry lines up to the next one.
	j := i + 1
	var (
		body    bytes.Buffer
		entries []types.Entry
	)
	for ; j < len(lines) && (err != nil || len(entries) < h.count); j++ {
		l := lines[j]
		if l.partial || isHeader(l) {
			break
		}
		e, perr := parseEntry(l.text)
		if perr != nil && err == nil {
			err = perr
		}
		entries = append(entries, e)
		body.WriteString(l.text)
		body.WriteByte('\n')
		rec.end = l.end
	}
	if err != nil || len(entries) != h.count || checksum(body.Bytes()) != h.sum {
		rec.torn = true
		return rec, j
	}
	rec.batch = types.Batch{ID: h.id, TakenMs: h.takenMs, Entries: entries}
	return rec, j
}

func scanLegacy(lines []line, i, fallback int) (record, int) {
	rec := record{start: lines[i].start, end: lines[i].end, legacy: true}
	j := i
	var entries []types.Entry
	for ; j < len(lines) && len(entries) < fallback; j++ {
		l := lines[j]
		if l.partial || isHeader(l) {
			break
		}
		e, err := parseEntry(l.text)
		if err != nil {
			// A garbled line is dropped on its own; the group ends here.
			if len(entries) == 0 {
				rec.end = l.end
				rec.torn = true
				return rec, j + 1
			}
			break
		}
		entries = append(entries, e)
		rec.end = l.end
	}
	rec.batch = types.Batch{Entries: entries}
	return rec, j
}
