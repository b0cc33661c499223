package model

import (
	"fmt"
	"time"
)

// LocalTime 按 "YYYY-MM-DD HH:MM:SS" 输出的时间类型。
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

// Time 返回底层的 time.Time。
func (t LocalTime) Time() time.Time {
	return time.Time(t)
}

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).Format(timeFormat))
	return []byte(formatted), nil
}
