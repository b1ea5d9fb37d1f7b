package timeline

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDurationForm(t *testing.T) {
	iv, err := Parse("2010-01-01/P2D")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := iv.Start.Format("2006-01-02"); got != "2010-01-01" {
		t.Fatalf("start = %s", got)
	}
	if got := iv.End.Format("2006-01-02"); got != "2010-01-03" {
		t.Fatalf("end = %s", got)
	}
}

func TestParseExplicitEnd(t *testing.T) {
	iv, err := Parse("2011-04-01/2011-04-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iv.Duration() != 24*time.Hour {
		t.Fatalf("duration = %s", iv.Duration())
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{"", "2010-01-01", "2010-01-01/P0D", "nope/2010-01-02", "2010-01-02/2010-01-01"} {
		if _, err := Parse(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestOverlapsAndContains(t *testing.T) {
	a := MustParse("2010-01-01/P2D")
	b := MustParse("2010-01-02/P2D")
	c := MustParse("2010-01-03/P1D")
	day1 := MustParse("2010-01-01/P1D")

	if !a.Overlaps(b) {
		t.Fatal("a should overlap b")
	}
	if a.Overlaps(c) {
		t.Fatal("half-open intervals sharing an endpoint must not overlap")
	}
	if !a.Contains(day1) {
		t.Fatal("a should contain its first day")
	}
	if a.Contains(b) {
		t.Fatal("a should not contain b")
	}
	if !a.ContainsTime(a.Start) || a.ContainsTime(a.End) {
		t.Fatal("ContainsTime must be start-inclusive, end-exclusive")
	}
}

func TestSplitByDay(t *testing.T) {
	iv := MustParse("2010-01-01/P2D")
	chunks := iv.Split(GranularityDay)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !chunks[0].Equal(MustParse("2010-01-01/P1D")) || !chunks[1].Equal(MustParse("2010-01-02/P1D")) {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestSplitTruncatesToBounds(t *testing.T) {
	iv := MustParse("2010-01-01T06:00:00/2010-01-02T18:00:00")
	chunks := iv.Split(GranularityDay)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !chunks[0].Start.Equal(iv.Start) {
		t.Fatalf("first chunk should start at interval start, got %s", chunks[0].Start)
	}
	if !chunks[1].End.Equal(iv.End) {
		t.Fatalf("last chunk should end at interval end, got %s", chunks[1].End)
	}
}

func TestJSONForm(t *testing.T) {
	var iv Interval
	if err := json.Unmarshal([]byte(`"2010-01-01/P2D"`), &iv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, err := json.Marshal(iv)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Interval
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if !back.Equal(iv) {
		t.Fatalf("round trip mismatch: %s vs %s", back, iv)
	}
	if err := json.Unmarshal([]byte(`"gibberish"`), &iv); err == nil {
		t.Fatal("expected error for malformed interval string")
	}
}

func TestGranule(t *testing.T) {
	ts := time.Date(2010, 1, 1, 13, 30, 0, 0, time.UTC)
	g := Granule(ts, GranularityDay)
	if !g.Equal(MustParse("2010-01-01/P1D")) {
		t.Fatalf("unexpected granule: %s", g)
	}
	h := Granule(ts, GranularityHour)
	if h.Duration() != time.Hour || !h.ContainsTime(ts) {
		t.Fatalf("unexpected hour granule: %s", h)
	}
}
