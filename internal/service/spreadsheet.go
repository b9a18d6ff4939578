package service

import (
	"fmt"
	"io"

	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/xuri/excelize/v2"
)

// ParseQuestionSheet reads an xlsx workbook into question rows. The first
// sheet is used; the first row is treated as a header. Column layout:
// question text, options A-D, correct answer label. Unreadable workbooks
// surface model.ErrBadFormat.
func ParseQuestionSheet(r io.Reader) ([]model.QuestionRow, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBadFormat, err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, model.ErrBadFormat
	}

	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBadFormat, err)
	}
	if len(rows) < 2 {
		return nil, model.ErrBadFormat
	}

	out := make([]model.QuestionRow, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		out = append(out, model.QuestionRow{
			QuestionText:  cell(cells, 0),
			OptionA:       cell(cells, 1),
			OptionB:       cell(cells, 2),
			OptionC:       cell(cells, 3),
			OptionD:       cell(cells, 4),
			CorrectAnswer: cell(cells, 5),
		})
	}
	return out, nil
}

// cell returns the i-th cell or "". excelize trims trailing empty cells
// per row, so short rows are common.
func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}
