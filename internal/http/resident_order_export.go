package httpapi

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

const residentOrderSheet = "Weekly Order"

// ResidentOrderExportHeader 订单导出表头
var ResidentOrderExportHeader = []string{
	"Day",
	"Date",
	"Meal",
	"Item",
	"Category",
	"Price",
	"Bagel Type",
}

// GenerateResidentOrderExport 生成住户周订单 Excel（每个菜品一行，末尾小计/税/合计）
func GenerateResidentOrderExport(order *domain.ResidentOrder) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(residentOrderSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ResidentOrderExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(residentOrderSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(residentOrderSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{12, 12, 12, 30, 12, 10, 14}
	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(residentOrderSheet, col, col, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	row := 2
	for _, m := range sortedMeals(order.Meals) {
		date := ""
		if off := m.Day.Offset(); off >= 0 {
			date = order.WeekStartDate.AddDate(0, 0, off).Format("2006-01-02")
		}
		for _, it := range m.Items {
			values := []any{
				titleCase(string(m.Day)),
				date,
				titleCase(string(m.MealType)),
				it.Name,
				string(it.Category),
				it.Price.StringFixed(2),
				m.BagelType,
			}
			if err := setRow(f, row, values); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
			row++
		}
	}

	// 空一行后写汇总
	row++
	totals := []struct {
		label string
		value string
	}{
		{"Subtotal", order.Subtotal.StringFixed(2)},
		{"Tax", order.Tax.StringFixed(2)},
		{"Total", order.Total.StringFixed(2)},
	}
	for _, t := range totals {
		if err := setCellValue(f, residentOrderSheet, 4, row, t.label); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write %s label: %w", t.label, err)
		}
		if err := setCellValue(f, residentOrderSheet, 6, row, t.value); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write %s value: %w", t.label, err)
		}
		row++
	}

	// 冻结表头
	if err := f.SetPanes(residentOrderSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// sortedMeals 按星期、餐次排序（不修改原切片）
func sortedMeals(meals []domain.Meal) []domain.Meal {
	out := make([]domain.Meal, len(meals))
	copy(out, meals)
	sort.SliceStable(out, func(i, j int) bool {
		if di, dj := out[i].Day.Offset(), out[j].Day.Offset(); di != dj {
			return di < dj
		}
		return mealTypeRank(out[i].MealType) < mealTypeRank(out[j].MealType)
	})
	return out
}

func mealTypeRank(mt domain.MealType) int {
	for i, v := range domain.MealTypes {
		if v == mt {
			return i
		}
	}
	return len(domain.MealTypes)
}

func setRow(f *excelize.File, row int, values []any) error {
	for i, v := range values {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		if err := setCellValue(f, residentOrderSheet, i+1, row, v); err != nil {
			return err
		}
	}
	return nil
}

// setCellValue 设置单元格值
func setCellValue(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
