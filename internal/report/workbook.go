package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	chaptersSheet = "Chapters"
)

var (
	summaryHeader  = []any{"Student", "Course", "Title", "Chapters", "Lessons Completed", "Quizzes Passed", "Overall %"}
	chaptersHeader = []any{"Course", "Chapter", "Title", "Unlocked", "Content Completed", "Attempts", "Best Score", "Passing Score", "Completed"}
)

// WriteWorkbook writes the reports as an xlsx workbook with one summary row
// per course and one detail row per chapter.
func WriteWorkbook(w io.Writer, reports ...CourseProgress) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	if _, err := f.NewSheet(chaptersSheet); err != nil {
		return fmt.Errorf("create chapters sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeRow(f, summarySheet, 1, summaryHeader); err != nil {
		return err
	}
	if err := writeRow(f, chaptersSheet, 1, chaptersHeader); err != nil {
		return err
	}
	for _, sheet := range []string{summarySheet, chaptersSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return fmt.Errorf("style %s header: %w", sheet, err)
		}
	}

	chapterRow := 2
	for i, r := range reports {
		err := writeRow(f, summarySheet, i+2, []any{
			r.StudentID, r.CourseID, r.Title, r.TotalChapters, r.LessonsCompleted, r.QuizzesPassed, r.OverallProgress,
		})
		if err != nil {
			return err
		}
		for _, ch := range r.Chapters {
			err := writeRow(f, chaptersSheet, chapterRow, []any{
				r.CourseID, ch.Number, ch.Title, yesNo(ch.IsUnlocked), yesNo(ch.ContentCompleted),
				ch.Attempts, ch.BestScore, ch.PassingScore, yesNo(ch.ChapterCompleted),
			})
			if err != nil {
				return err
			}
			chapterRow++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
