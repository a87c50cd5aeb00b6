package utils

import (
	"testing"
	"time"
)

// ============================================================
// Тесты границ дня
// ============================================================

func TestGetDayStartFrom(t *testing.T) {
	input := time.Date(2024, 1, 15, 14, 30, 45, 123, time.UTC)
	expected := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	result := GetDayStartFrom(input)
	if !result.Equal(expected) {
		t.Errorf("GetDayStartFrom = %v, want %v", result, expected)
	}
}

func TestGetDayStartFrom_NonUTC(t *testing.T) {
	// Время в другой зоне должно приводиться к UTC
	loc := time.FixedZone("UTC+3", 3*60*60)
	input := time.Date(2024, 1, 15, 1, 30, 0, 0, loc) // 2024-01-14 22:30 UTC
	expected := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)

	result := GetDayStartFrom(input)
	if !result.Equal(expected) {
		t.Errorf("GetDayStartFrom = %v, want %v", result, expected)
	}
}

func TestGetDayEndFrom(t *testing.T) {
	input := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)
	expected := time.Date(2024, 1, 15, 23, 59, 59, 999999999, time.UTC)

	result := GetDayEndFrom(input)
	if !result.Equal(expected) {
		t.Errorf("GetDayEndFrom = %v, want %v", result, expected)
	}
}

func TestGetPreviousDayStart(t *testing.T) {
	result := GetPreviousDayStart()
	today := GetDayStart()

	if !result.Before(today) {
		t.Error("начало предыдущего дня должно быть раньше начала текущего")
	}
	if today.Sub(result) != 24*time.Hour {
		t.Errorf("разница должна быть ровно 24 часа, got %v", today.Sub(result))
	}
}

// ============================================================
// Тесты TimeRange
// ============================================================

func TestTimeRange_Contains(t *testing.T) {
	tr := TimeRange{
		Start: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC),
	}

	tests := []struct {
		name     string
		input    time.Time
		expected bool
	}{
		{"inside", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), true},
		{"at start", tr.Start, true},
		{"at end", tr.End, true},
		{"before", time.Date(2024, 1, 14, 23, 59, 59, 0, time.UTC), false},
		{"after", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.Contains(tt.input); got != tt.expected {
				t.Errorf("Contains(%v) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGetLastNHours(t *testing.T) {
	tr := GetLastNHours(24)

	if tr.Duration() != 24*time.Hour {
		t.Errorf("Duration = %v, want 24h", tr.Duration())
	}

	// Отрицательное n должно приводиться к 1
	tr = GetLastNHours(-5)
	if tr.Duration() != time.Hour {
		t.Errorf("Duration для отрицательного n = %v, want 1h", tr.Duration())
	}
}

// ============================================================
// Тесты timestamp и форматирования
// ============================================================

func TestUnixMillisRoundTrip(t *testing.T) {
	ms := UnixMillis()
	restored := FromUnixMillis(ms)

	if restored.UnixMilli() != ms {
		t.Errorf("round trip через миллисекунды потерял точность: %v != %v", restored.UnixMilli(), ms)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{45 * time.Second, "45s"},
		{5*time.Minute + 30*time.Second, "5m30s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{3 * time.Hour, "3h"},
		{-45 * time.Second, "45s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatDuration(tt.input); got != tt.expected {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
