package export

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xuri/excelize/v2"

	"finnscout/internal/config"
	"finnscout/internal/listing"
)

const sheetName = "Listings"

// WriteXLSX writes the report to path: bold frozen header, autofilter,
// readable column widths, with the link column as clickable hyperlinks.
// Listings should already be filtered and sorted via Apply.
func WriteXLSX(path string, listings []*listing.Listing, cats map[string]config.PlaceCategoryCfg, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}

	cols := Columns(cats)
	v := newValuer(cats)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	for i, col := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell %d: %w", i, err)
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(cols))
	if err != nil {
		return fmt.Errorf("resolving last column: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	linkCol := -1
	for i, col := range cols {
		if col == "link" {
			linkCol = i
		}
	}

	for rowIdx, l := range listings {
		for colIdx, col := range cols {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("cell %d,%d: %w", colIdx, rowIdx, err)
			}

			raw := v.value(l, col)
			if colIdx == linkCol && raw != "" {
				if err := f.SetCellValue(sheetName, cell, raw); err != nil {
					return fmt.Errorf("writing link cell: %w", err)
				}
				if err := f.SetCellHyperLink(sheetName, cell, raw, "External"); err != nil {
					return fmt.Errorf("setting hyperlink: %w", err)
				}
				continue
			}

			// Numbers as numbers so spreadsheet sorting works.
			if num, err := strconv.ParseFloat(raw, 64); err == nil && raw != "" && col != "finn_code" && col != "size_m2" {
				if err := f.SetCellValue(sheetName, cell, num); err != nil {
					return fmt.Errorf("writing cell: %w", err)
				}
				continue
			}
			if err := f.SetCellValue(sheetName, cell, raw); err != nil {
				return fmt.Errorf("writing cell: %w", err)
			}
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}
	if len(listings) > 0 {
		ref := fmt.Sprintf("A1:%s%d", lastCol, len(listings)+1)
		if err := f.AutoFilter(sheetName, ref, nil); err != nil {
			return fmt.Errorf("setting autofilter: %w", err)
		}
	}
	if err := f.SetColWidth(sheetName, "A", lastCol, 18); err != nil {
		return fmt.Errorf("setting column widths: %w", err)
	}
	if err := f.SetColWidth(sheetName, "B", "C", 40); err != nil {
		return fmt.Errorf("widening title and address: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving xlsx %s: %w", path, err)
	}
	logger.Info("wrote export", "path", path, "rows", len(listings))
	return nil
}
