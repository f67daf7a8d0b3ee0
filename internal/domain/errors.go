package domain

import (
	"errors"
	"time"
)

// ErrNotFound 记录不存在（仓库层统一用 %w 包装）
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists 唯一约束冲突（同一住户同一周只能有一个未取消的订单）
var ErrAlreadyExists = errors.New("already exists")

// DateOnly 取 t 的日历日期（UTC 00:00），与 DATE 列读出的值一致
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
