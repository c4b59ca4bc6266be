package periods

import (
	"fmt"
	"strconv"
	"time"
)

// Codes lists every accepted period code in declaration order.
var Codes = []string{
	"1T", "2T", "3T", "4T",
	"01", "02", "03", "04", "05", "06",
	"07", "08", "09", "10", "11", "12",
}

// ValidCode reports whether code is a quarter ("1T".."4T") or a month ("01".."12").
func ValidCode(code string) bool {
	_, _, err := months(code)
	return err == nil
}

// Resolve converts a year and period code into the inclusive date range it covers.
func Resolve(year int, code string) (Range, error) {
	if year < 1000 || year > 9999 {
		return Range{}, fmt.Errorf("%w: year %d", ErrInvalidCode, year)
	}
	first, last, err := months(code)
	if err != nil {
		return Range{}, err
	}
	start := time.Date(year, first, 1, 0, 0, 0, 0, time.UTC)
	// day zero of the following month is the last day of the end month
	end := time.Date(year, last+1, 0, 0, 0, 0, 0, time.UTC)
	return Range{Start: start, End: end}, nil
}

func months(code string) (time.Month, time.Month, error) {
	if len(code) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	if code[1] == 'T' {
		quarter := int(code[0] - '0')
		if quarter < 1 || quarter > 4 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
		first := time.Month((quarter-1)*3 + 1)
		return first, first + 2, nil
	}
	month, err := strconv.Atoi(code)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return time.Month(month), time.Month(month), nil
}
