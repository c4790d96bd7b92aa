// Package codec converts Brazilian-locale numbers and dates found in exchange
// CSV exports ("1.234,56", "30/12/2024") to Go values and back.
package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	thousandsSep = "."
	decimalSep   = ","

	dateLayout = "02/01/2006"
	timeLayout = "15:04:05"
)

var ErrFormat = errors.New("format error")

type FormatError struct {
	Kind  string
	Input string
	Err   error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %v", e.Kind, e.Input, e.Err)
	}
	return fmt.Sprintf("invalid %s %q", e.Kind, e.Input)
}

func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFormat}
	}
	return []error{ErrFormat, e.Err}
}

// ParseDecimal parses "600.822.115,84" style text. Every '.' is a thousands
// separator and ',' is the decimal separator.
func ParseDecimal(text string) (float64, error) {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return 0, &FormatError{Kind: "decimal", Input: text, Err: errors.New("empty")}
	}
	for _, r := range normalized {
		if notDecimalRune(r) {
			return 0, &FormatError{Kind: "decimal", Input: text, Err: fmt.Errorf("unexpected character %q", r)}
		}
	}
	normalized = strings.ReplaceAll(normalized, thousandsSep, "")
	normalized = strings.Replace(normalized, decimalSep, ".", 1)
	val, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, &FormatError{Kind: "decimal", Input: text, Err: unwrapNumError(err)}
	}
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, &FormatError{Kind: "decimal", Input: text, Err: errors.New("not finite")}
	}
	return val, nil
}

// notDecimalRune rejects what strconv.ParseFloat would otherwise accept:
// exponents, hex floats, underscores and the NaN/Inf spellings.
func notDecimalRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return false
	case r == '.' || r == ',' || r == '+' || r == '-':
		return false
	}
	return true
}

// ParseCount parses a non-negative integer that may carry '.' grouping ("24.228").
func ParseCount(text string) (uint32, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(text), thousandsSep, "")
	if normalized == "" {
		return 0, &FormatError{Kind: "count", Input: text, Err: errors.New("empty")}
	}
	val, err := strconv.ParseUint(normalized, 10, 32)
	if err != nil {
		return 0, &FormatError{Kind: "count", Input: text, Err: unwrapNumError(err)}
	}
	return uint32(val), nil
}

// ParseDateTime combines a DD/MM/YYYY date and a HH:MM:SS time into a UTC instant.
func ParseDateTime(dateText, timeText string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(dateText), time.UTC)
	if err != nil {
		return time.Time{}, &FormatError{Kind: "date", Input: dateText, Err: err}
	}
	clock, err := time.ParseInLocation(timeLayout, strings.TrimSpace(timeText), time.UTC)
	if err != nil {
		return time.Time{}, &FormatError{Kind: "time", Input: timeText, Err: err}
	}
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC), nil
}

// FormatDecimal renders value with a fixed number of places and ',' as the
// decimal separator. No thousands grouping is applied.
func FormatDecimal(value float64, places int) string {
	if places < 0 {
		places = 0
	}
	return strings.Replace(strconv.FormatFloat(value, 'f', places, 64), ".", decimalSep, 1)
}

func unwrapNumError(err error) error {
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return numErr.Err
	}
	return err
}
