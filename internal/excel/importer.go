// Package excel converts spreadsheet curricula (xlsx or CSV) into the
// JSON lesson document the bot serves from.
package excel

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/vanguar/german-morning-bot/pkg/models"
)

// ImportConfig defines the import configuration. Pair-list cells
// (words, phrases, review) hold one "term - translation" per line.
type ImportConfig struct {
	FilePath      string // Path to the Excel or CSV file
	LevelColumn   string // Column with the level label
	TitleColumn   string // Column with the lesson title
	WordsColumn   string // Column with the new vocabulary
	PhrasesColumn string // Column with the phrases
	GrammarColumn string // Column with the grammar note
	ReviewColumn  string // Column with the review vocabulary
	TaskColumn    string // Column with the free-text task
	SheetName     string // Name of the sheet to import
	StartRow      int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		LevelColumn:   "A",
		TitleColumn:   "B",
		WordsColumn:   "C",
		PhrasesColumn: "D",
		GrammarColumn: "E",
		ReviewColumn:  "F",
		TaskColumn:    "G",
		SheetName:     "Sheet1",
		StartRow:      2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Lessons        int
	Levels         int
	Errors         []string
}

// ImportLessons reads an Excel or CSV curriculum and builds the
// level-to-sequence mapping. Row order within a level is preserved as
// delivery order.
func ImportLessons(config ImportConfig) (map[string][]models.Lesson, *ImportResult, error) {
	ext := strings.ToLower(filepath.Ext(config.FilePath))
	if ext == ".csv" {
		return importFromCSV(config)
	}
	return importFromExcel(config)
}

func importFromExcel(config ImportConfig) (map[string][]models.Lesson, *ImportResult, error) {
	f, err := excelize.OpenFile(config.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Excel file: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(config.SheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get rows: %v", err)
	}
	return buildCurriculum(rows, config)
}

func importFromCSV(config ImportConfig) (map[string][]models.Lesson, *ImportResult, error) {
	f, err := os.Open(config.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV file: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV: %v", err)
		}
		rows = append(rows, record)
	}
	return buildCurriculum(rows, config)
}

func buildCurriculum(rows [][]string, config ImportConfig) (map[string][]models.Lesson, *ImportResult, error) {
	curriculum := make(map[string][]models.Lesson)
	result := &ImportResult{Errors: make([]string, 0)}

	for i, row := range rows {
		// Skip header rows
		if i < config.StartRow-1 {
			continue
		}

		level := cellValue(row, config.LevelColumn)
		title := cellValue(row, config.TitleColumn)
		if level == "" && title == "" {
			continue
		}
		result.TotalProcessed++
		if level == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: missing level", i+1))
			continue
		}
		if title == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: missing title", i+1))
			continue
		}

		lesson := models.Lesson{Title: title}
		lesson.Words = parsePairs(cellValue(row, config.WordsColumn), i+1, result)
		lesson.Phrases = parsePairs(cellValue(row, config.PhrasesColumn), i+1, result)
		lesson.Review = parsePairs(cellValue(row, config.ReviewColumn), i+1, result)
		if rule := cellValue(row, config.GrammarColumn); rule != "" {
			lesson.Grammar = &models.Grammar{Rule: rule}
		}
		lesson.Task = cellValue(row, config.TaskColumn)

		curriculum[level] = append(curriculum[level], lesson)
		result.Lessons++
	}

	result.Levels = len(curriculum)
	return curriculum, result, nil
}

// cellValue reads a cell by column letter, "" when the row is short
func cellValue(row []string, column string) string {
	idx, err := excelize.ColumnNameToNumber(column)
	if err != nil || idx-1 >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx-1])
}

// parsePairs splits a multi-line cell into term/translation pairs.
// Lines without a separator are reported, not imported.
func parsePairs(cell string, rowNum int, result *ImportResult) []models.Pair {
	if cell == "" {
		return nil
	}
	var pairs []models.Pair
	for _, line := range strings.Split(cell, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term, translation, ok := splitPair(line)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: cannot parse pair %q", rowNum, line))
			continue
		}
		pairs = append(pairs, models.Pair{Term: term, Translation: translation})
	}
	return pairs
}

func splitPair(line string) (string, string, bool) {
	for _, sep := range []string{" — ", " - "} {
		if parts := strings.SplitN(line, sep, 2); len(parts) == 2 {
			return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
		}
	}
	return "", "", false
}

// WriteLessonsFile stores the curriculum as a JSON document. The write
// goes through a temp file and rename so a concurrent Reload never
// observes a half-written document.
func WriteLessonsFile(path string, curriculum map[string][]models.Lesson) error {
	data, err := json.MarshalIndent(curriculum, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal curriculum: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write curriculum file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace curriculum file: %v", err)
	}
	return nil
}
