package collectors_test

import (
	"testing"

	"github.com/Makr91/zoneweaver-api/internal/collectors"
)

// TestParseRejectsHeaderContamination covers §8 scenario 6: a legend
// line must be rejected and not prevent the following real row from
// being parsed.
func TestParseRejectsHeaderContamination(t *testing.T) {
	output := "LINK:IPACKETS:RBYTES:IERRORS:OPACKETS:OBYTES:OERRORS\n" +
		"vnic0:100:1000000:0:200:2000000:0\n"

	rows := collectors.ParseColonDelimited(output, 7)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after header rejection, got %d", len(rows))
	}
	if rows[0][0] != "vnic0" {
		t.Fatalf("expected vnic0, got %s", rows[0][0])
	}
}

func TestParseRejectsWrongColumnCount(t *testing.T) {
	rows := collectors.ParseColonDelimited("vnic0:100:1000000\n", 7)
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows for wrong column count, got %d", len(rows))
	}
}

func TestParseHandlesEscapedColonInMAC(t *testing.T) {
	rows := collectors.ParseColonDelimited("vnic0\\:0:a\n", 2)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0][0] != "vnic0:0" {
		t.Fatalf("expected escaped colon preserved, got %q", rows[0][0])
	}
}

func TestParseDashDashSentinel(t *testing.T) {
	rows := collectors.ParseColonDelimited("vnic0:--\n", 2)
	if len(rows) != 1 || rows[0][1] != "" {
		t.Fatalf("expected -- to become empty string, got %+v", rows)
	}
}

func TestParseNonNegativeIntRejectsNegativeAndNonNumeric(t *testing.T) {
	if _, ok := collectors.ParseNonNegativeInt("-5"); ok {
		t.Fatalf("expected negative to be rejected")
	}
	if _, ok := collectors.ParseNonNegativeInt("abc"); ok {
		t.Fatalf("expected non-numeric to be rejected")
	}
	if v, ok := collectors.ParseNonNegativeInt("42"); !ok || v != 42 {
		t.Fatalf("expected 42, got %d, ok=%v", v, ok)
	}
}
