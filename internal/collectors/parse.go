// Package collectors implements the Metric Collection & Retention
// pipeline (§4.6): independent fixed-interval collectors that shell out
// via the Command Runner, parse parseable host-utility output, compute
// deltas/rates and write to the Store.
package collectors

import (
	"math"
	"strconv"
	"strings"
)

// headerKeywords are column names host utilities print when parseable
// mode (-p) is not honoured, or when a caller requests a legend. A row
// whose first field matches one of these, case-insensitively, is a
// header row and must be rejected (§4.6.1).
var headerKeywords = map[string]bool{
	"LINK": true, "CLASS": true, "STATE": true, "IPACKETS": true,
	"RBYTES": true, "OPACKETS": true, "OBYTES": true, "IERRORS": true,
	"OERRORS": true, "DEVICE": true, "CPU": true, "CORE": true,
	"NAME": true, "POOL": true, "SLOT": true,
}

// ParseColonDelimited splits output into records of exactly width
// colon-separated fields, rejecting (not erroring on) any line that is a
// header row or has the wrong field count. An escaped colon inside a
// field (MAC addresses use `\:`) is kept as a literal colon rather than
// splitting the field. The `--` sentinel is replaced by an empty string
// for the caller to interpret per-field.
func ParseColonDelimited(output string, width int) [][]string {
	var rows [][]string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := splitUnescaped(line)
		if len(fields) != width {
			continue
		}
		if headerKeywords[strings.ToUpper(fields[0])] {
			continue
		}
		for i, f := range fields {
			if f == "--" {
				fields[i] = ""
			}
		}
		rows = append(rows, fields)
	}
	return rows
}

// splitUnescaped splits line on ':' while treating `\:` as a literal
// colon, the escaping dladm uses inside MAC address fields.
func splitUnescaped(line string) []string {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		if line[i] == '\\' && i+1 < len(line) && line[i+1] == ':' {
			cur.WriteByte(':')
			i++
			continue
		}
		if line[i] == ':' {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(line[i])
	}
	fields = append(fields, cur.String())
	return fields
}

// ParseNonNegativeInt parses field as a non-negative integer, returning
// ok=false for anything else (negative, non-numeric, empty) so the
// caller can reject the row without storing a zero in its place
// (§4.6.1: "reject any row whose supposedly-numeric field is not a
// non-negative integer").
func ParseNonNegativeInt(field string) (uint64, bool) {
	if field == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseNonNegativeFloat parses field as a non-negative finite float.
func ParseNonNegativeFloat(field string) (float64, bool) {
	if field == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
