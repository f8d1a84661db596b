package reader

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

// sampleSize bounds how many leading bytes feed the encoding and delimiter
// probes.
const sampleSize = 64 * 1024

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// delimCandidates are tried by the sniffer, most common first. Comma is
// the default when nothing else wins.
var delimCandidates = []rune{',', ';', '\t', '|'}

// encodingCandidate is one entry in the fixed encoding preference order.
// accepts reports whether the sampled bytes decode cleanly under it.
type encodingCandidate struct {
	name    string
	decoder func() *encoding.Decoder // nil means the bytes are used as-is
	accepts func(sample []byte) bool
}

// encodingCandidates is the probe order. UTF-8 is checked by validity;
// Windows-1252 rejects its five undefined bytes; ISO-8859-1 maps every
// byte and therefore acts as the always-valid last resort. (The classic
// utf-8 → latin-1 → cp1252 chain is unreachable past latin-1, so the two
// single-byte candidates are probed in the decidable order instead.)
var encodingCandidates = []encodingCandidate{
	{
		name:    "utf-8",
		accepts: utf8.Valid,
	},
	{
		name:    "windows-1252",
		decoder: charmap.Windows1252.NewDecoder,
		accepts: func(sample []byte) bool {
			for _, b := range sample {
				switch b {
				case 0x81, 0x8d, 0x8f, 0x90, 0x9d:
					return false
				}
			}
			return true
		},
	},
	{
		name:    "iso-8859-1",
		decoder: charmap.ISO8859_1.NewDecoder,
		accepts: func([]byte) bool { return true },
	},
}

// decodeBytes picks the first encoding whose probe accepts the sample and
// decodes the full input with it. It always succeeds because the last
// candidate accepts everything.
func decodeBytes(data []byte) (string, string) {
	sample := data
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	for _, cand := range encodingCandidates {
		if !cand.accepts(sample) {
			continue
		}
		if cand.decoder == nil {
			return string(data), cand.name
		}
		decoded, err := cand.decoder().Bytes(data)
		if err != nil {
			continue
		}
		return string(decoded), cand.name
	}
	return string(data), encodingCandidates[0].name
}

// sniffDelimiter picks the most plausible delimiter for the decoded
// sample. The primary signal is a consistent multi-column parse: each
// candidate is run through a lenient csv.Reader over the first rows, and
// the candidate producing the widest consistent table wins. When no
// candidate parses into more than one column, a raw frequency count over
// the first line breaks the tie; comma is the final default.
func sniffDelimiter(sample string) rune {
	const probeRows = 10

	best, bestWidth := rune(0), 1
	for _, cand := range delimCandidates {
		r := csv.NewReader(strings.NewReader(sample))
		r.Comma = cand
		r.LazyQuotes = true
		r.FieldsPerRecord = -1

		width, rows, consistent := 0, 0, true
		for rows < probeRows {
			rec, err := r.Read()
			if err != nil {
				break
			}
			rows++
			if width == 0 {
				width = len(rec)
			} else if len(rec) != width {
				consistent = false
				break
			}
		}
		if consistent && rows > 0 && width > bestWidth {
			best, bestWidth = cand, width
		}
	}
	if best != 0 {
		return best
	}

	// Frequency fallback over the first line. Quoted fields containing the
	// delimiter can skew this; it is a heuristic of last resort.
	firstLine := sample
	if i := strings.IndexByte(sample, '\n'); i >= 0 {
		firstLine = sample[:i]
	}
	bestCount := 0
	for _, cand := range delimCandidates {
		if n := strings.Count(firstLine, string(cand)); n > bestCount {
			best, bestCount = cand, n
		}
	}
	if best == 0 {
		best = ','
	}
	return best
}

// readCSV decodes CSV bytes into records: probe the encoding, sniff the
// delimiter, then stream through a lenient encoding/csv reader. The first
// row is the header; its original (unsanitized) names become record keys.
func (rd *Reader) readCSV(name string, data []byte) ([]any, error) {
	decoded, encName := decodeBytes(data)
	delim := sniffDelimiter(head(decoded, sampleSize))

	r := csv.NewReader(strings.NewReader(decoded))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.ReuseRecord = false

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &core.EmptyInputError{Source: "file " + name}
		}
		return nil, &core.FormatError{Name: name, Err: err}
	}
	header[0] = strings.TrimPrefix(header[0], utf8BOM)

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &core.FormatError{Name: name, Err: err}
		}
		rows = append(rows, rec)
	}

	rd.log.WithFields(logrus.Fields{
		"file":      name,
		"encoding":  encName,
		"delimiter": string(delim),
	}).Debug("csv probe settled")

	return assembleRecords(header, rows), nil
}

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
