package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	WireDateLayout = "02/01/2006"
	ISODateLayout  = "2006-01-02"
)

var (
	wireDateRe = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	isoDateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	slotRe     = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)
)

// AnchorDate отбрасывает время суток и ставит полдень UTC,
// чтобы round-trip через колонку DATE не сдвигал день
func AnchorDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// ParseWireDate разбирает дату строго в формате DD/MM/YYYY
func ParseWireDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !wireDateRe.MatchString(s) {
		return time.Time{}, fmt.Errorf("date %q must match DD/MM/YYYY", s)
	}
	t, err := time.Parse(WireDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return AnchorDate(t), nil
}

// ParseFlexibleDate принимает DD/MM/YYYY, YYYY-MM-DD и
// YYYY-MM-DDTHH:MM:SS... (время отбрасывается)
func ParseFlexibleDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if wireDateRe.MatchString(s) {
		return ParseWireDate(s)
	}
	if len(s) > 10 && s[10] == 'T' {
		s = s[:10]
	}
	if !isoDateRe.MatchString(s) {
		return time.Time{}, fmt.Errorf("unsupported date format %q", s)
	}
	t, err := time.Parse(ISODateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return AnchorDate(t), nil
}

// FormatWireDate форматирует дату обратно в DD/MM/YYYY
func FormatWireDate(t time.Time) string {
	return AnchorDate(t).Format(WireDateLayout)
}

// DateKey ключ дня для map и блокировок
func DateKey(t time.Time) string {
	return AnchorDate(t).Format(ISODateLayout)
}

// ValidSlot проверяет формат HH:MM
func ValidSlot(s string) bool {
	return slotRe.MatchString(strings.TrimSpace(s))
}

// SlotKey приводит слот к виду HH:MM: из хранилища он может прийти
// с секундами ("08:00:00"), а на входе без ведущего нуля ("8:00")
func SlotKey(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 5 && s[5] == ':' {
		s = s[:5]
	}
	if len(s) == 4 && s[1] == ':' {
		s = "0" + s
	}
	if len(s) > 5 {
		return s[:5]
	}
	return s
}
