package replay

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

const (
	bufioSize     = 1 << 20
	flushEveryN   = 200
	flushEveryDur = 500 * time.Millisecond
)

// Header is the column layout written by the recorder and read by bookcheck.
var Header = []string{"ts_ms", "token_id", "side", "price", "size"}

// Row is one applied diff with its receive time.
type Row struct {
	TsMs int64
	Diff transport.Diff
}

func NewRow(d transport.Diff, at time.Time) Row {
	return Row{TsMs: at.UnixMilli(), Diff: d}
}

func (r Row) record(rec []string) {
	rec[0] = strconv.FormatInt(r.TsMs, 10)
	rec[1] = r.Diff.TokenID
	rec[2] = r.Diff.Side.String()
	rec[3] = strconv.FormatFloat(r.Diff.Price, 'f', -1, 64)
	rec[4] = strconv.FormatFloat(r.Diff.Size, 'f', -1, 64)
}

// WriteLoop writes rows as CSV until rows is closed or ctx is done, flushing
// in batches. It returns the number of rows written.
func WriteLoop(ctx context.Context, out io.Writer, rows <-chan Row) (uint64, error) {
	bw := bufio.NewWriterSize(out, bufioSize)
	w := csv.NewWriter(bw)

	flush := func() error {
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flush bufio: %w", err)
		}
		return nil
	}

	if err := w.Write(Header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	if err := flush(); err != nil {
		return 0, err
	}

	ticker := time.NewTicker(flushEveryDur)
	defer ticker.Stop()

	var n uint64
	sinceFlush := 0
	rec := make([]string, len(Header))
	for {
		select {
		case <-ctx.Done():
			return n, flush()
		case <-ticker.C:
			if sinceFlush > 0 {
				if err := flush(); err != nil {
					return n, err
				}
				sinceFlush = 0
			}
		case row, ok := <-rows:
			if !ok {
				return n, flush()
			}
			row.record(rec)
			if err := w.Write(rec); err != nil {
				return n, fmt.Errorf("write row: %w", err)
			}
			n++
			sinceFlush++
			if sinceFlush >= flushEveryN {
				if err := flush(); err != nil {
					return n, err
				}
				sinceFlush = 0
			}
		}
	}
}

// Reader parses diff rows. A leading header row is optional; without one the
// columns are taken positionally as token_id, side, price, size, optionally
// preceded by ts_ms when a row has five fields.
type Reader struct {
	r      *csv.Reader
	header map[string]int
	line   int
}

func NewReader(in io.Reader) *Reader {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return &Reader{r: r}
}

// Next returns the next valid row. Rows with an unknown side or unparsable
// numbers are skipped. It returns io.EOF at the end of input.
func (rd *Reader) Next() (Row, error) {
	for {
		fields, err := rd.r.Read()
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				continue
			}
			return Row{}, err
		}
		rd.line++
		if len(fields) == 0 {
			continue
		}
		if rd.line == 1 && containsHeader(fields) {
			rd.header = make(map[string]int, len(fields))
			for i, name := range fields {
				rd.header[strings.ToLower(strings.TrimSpace(name))] = i
			}
			continue
		}
		if row, ok := rd.parse(fields); ok {
			return row, nil
		}
	}
}

func (rd *Reader) parse(fields []string) (Row, bool) {
	ts, token, side, price, size := -1, 0, 1, 2, 3
	switch {
	case rd.header != nil:
		ts, token, side, price, size = rd.col("ts_ms"), rd.col("token_id"), rd.col("side"), rd.col("price"), rd.col("size")
	case len(fields) >= 5:
		ts, token, side, price, size = 0, 1, 2, 3, 4
	}

	var row Row
	row.Diff.TokenID = strings.TrimSpace(field(fields, token))
	row.Diff.Side = transport.ParseSide(field(fields, side))
	if row.Diff.TokenID == "" || row.Diff.Side == transport.SideUnknown {
		return Row{}, false
	}
	var err error
	if row.Diff.Price, err = strconv.ParseFloat(strings.TrimSpace(field(fields, price)), 64); err != nil {
		return Row{}, false
	}
	if row.Diff.Size, err = strconv.ParseFloat(strings.TrimSpace(field(fields, size)), 64); err != nil {
		return Row{}, false
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(field(fields, ts)), 10, 64); err == nil {
		row.TsMs = v
	}
	return row, true
}

func (rd *Reader) col(name string) int {
	if idx, ok := rd.header[name]; ok {
		return idx
	}
	return -1
}

func field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

// containsHeader reports whether a first row names the side column; data
// rows also carry letters in token ids and sides, so any letter is not enough.
func containsHeader(fields []string) bool {
	for _, f := range fields {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "side", "price", "size", "token_id":
			return true
		}
	}
	return false
}
