package ordering

import (
	"fmt"
	"time"
)

// OrderingWindow 可下单的周及其截止时间
type OrderingWindow struct {
	WeekStart time.Time // 周一 00:00（参考时区）
	WeekEnd   time.Time // 周日 00:00（weekStart + 6 天）
	Cutoff    time.Time // weekStart 前一天（周日）cutoffHour:00
}

// DeadlineCalculator 计算下单周和截止时间（纯函数，无副作用）
//
// 规则：可下单的周 = 截止时间严格晚于参考时间的最早一个周一。
// 当前周的截止时间在上周日已过，所以当前周永远不可下单；
// 周日 cutoffHour 之后，下周也已截止，顺延到下下周。
type DeadlineCalculator struct {
	loc        *time.Location
	cutoffHour int
}

// NewDeadlineCalculator 创建计算器，cutoffHour 取值 0-23
func NewDeadlineCalculator(loc *time.Location, cutoffHour int) (*DeadlineCalculator, error) {
	if loc == nil {
		return nil, fmt.Errorf("timezone is required")
	}
	if cutoffHour < 0 || cutoffHour > 23 {
		return nil, fmt.Errorf("cutoff hour out of range: %d", cutoffHour)
	}
	return &DeadlineCalculator{loc: loc, cutoffHour: cutoffHour}, nil
}

// Location 参考时区
func (c *DeadlineCalculator) Location() *time.Location { return c.loc }

// NextOrderingWindow 参考时间点对应的下一个可下单周
func (c *DeadlineCalculator) NextOrderingWindow(ref time.Time) OrderingWindow {
	local := ref.In(c.loc)
	offset := (int(local.Weekday()) + 6) % 7 // Monday=0
	thisMonday := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, c.loc)

	weekStart := thisMonday.AddDate(0, 0, 7)
	if !c.CutoffFor(weekStart).After(ref) {
		weekStart = weekStart.AddDate(0, 0, 7)
	}
	return c.window(weekStart)
}

// CutoffFor weekStart 对应的截止时间：前一天（周日）cutoffHour:00
// weekStart 按日期字面值解释，与 NormalizeWeekStart 一致
func (c *DeadlineCalculator) CutoffFor(weekStart time.Time) time.Time {
	return time.Date(weekStart.Year(), weekStart.Month(), weekStart.Day()-1, c.cutoffHour, 0, 0, 0, c.loc)
}

// WindowFor 校验 weekStart 为周一并返回完整窗口
func (c *DeadlineCalculator) WindowFor(weekStart time.Time) (OrderingWindow, error) {
	ws, err := c.NormalizeWeekStart(weekStart)
	if err != nil {
		return OrderingWindow{}, err
	}
	return c.window(ws), nil
}

// NormalizeWeekStart 将日期归一到参考时区 00:00，并要求是周一
func (c *DeadlineCalculator) NormalizeWeekStart(d time.Time) (time.Time, error) {
	if d.IsZero() {
		return time.Time{}, NewValidationError("week_start_date", "is required")
	}
	// 日期按字面值解释（DATE 列读出为 UTC 00:00）
	ws := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, c.loc)
	if ws.Weekday() != time.Monday {
		return time.Time{}, NewValidationError("week_start_date", "must be a Monday, got %s", ws.Weekday())
	}
	return ws, nil
}

// CheckEditable now 晚于截止时间时返回 DeadlinePassedError（等于截止时间仍可编辑）
func (c *DeadlineCalculator) CheckEditable(weekStart, now time.Time) error {
	ws, err := c.NormalizeWeekStart(weekStart)
	if err != nil {
		return err
	}
	cutoff := c.CutoffFor(ws)
	if now.After(cutoff) {
		return &DeadlinePassedError{WeekStart: ws, Cutoff: cutoff}
	}
	return nil
}

func (c *DeadlineCalculator) window(weekStart time.Time) OrderingWindow {
	return OrderingWindow{
		WeekStart: weekStart,
		WeekEnd:   weekStart.AddDate(0, 0, 6),
		Cutoff:    c.CutoffFor(weekStart),
	}
}
