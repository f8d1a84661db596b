package reader

import (
	"bytes"

	"github.com/xuri/excelize/v2"

	"github.com/DaniloDalessandro/datadock/internal/core"
)

// readExcel decodes an Excel workbook (.xlsx/.xls) into records. The first
// sheet is read; its first row is the header.
//
// The open is attempted twice: once against the original byte slice and,
// on failure, once more against a fresh in-memory copy. Legacy binary .xls
// workbooks that the engine cannot parse surface as FormatError.
func (rd *Reader) readExcel(name string, data []byte) ([]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		buffered := make([]byte, len(data))
		copy(buffered, data)
		f, err = excelize.OpenReader(bytes.NewReader(buffered))
		if err != nil {
			return nil, &core.FormatError{Name: name, Err: err}
		}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &core.EmptyInputError{Source: "file " + name}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &core.FormatError{Name: name, Err: err}
	}
	if len(rows) == 0 {
		return nil, &core.EmptyInputError{Source: "file " + name}
	}

	header := rows[0]
	return assembleRecords(header, rows[1:]), nil
}
