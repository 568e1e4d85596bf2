package verify

import (
	"testing"

	"github.com/dshills/calltriage/internal/schema"
	"github.com/dshills/calltriage/internal/truth"
)

func TestNameMatches(t *testing.T) {
	cases := []struct {
		claimed, actual string
		want            bool
	}{
		{"Sam", "Samuel Johnson", true},
		{"sam", "SAM JOHNSON", true},
		{"Sam Johnson", "Sam Johnson", true},
		{"Tom", "Sam Johnson", false},
		{"Sam", "Tom Johnson", false},
		{"", "Sam Johnson", false},
		{"Sam", "", false},
		{"  Sam  ", "Samuel Johnson", true},
	}
	for _, c := range cases {
		if got := NameMatches(c.claimed, c.actual); got != c.want {
			t.Errorf("NameMatches(%q, %q) = %v, want %v", c.claimed, c.actual, got, c.want)
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"2026-08-15", "2026-08-15"},
		{"2026-08-15T10:30:00Z", "2026-08-15"},
		{"2026-08-15 10:30:00", "2026-08-15"},
		{"08/15/2026", "2026-08-15"},
		{"8/5/2026", "2026-08-05"},
		{"August 15, 2026", "2026-08-15"},
		{" 2026-08-15 ", "2026-08-15"},
		{"next Tuesday", "next Tuesday"},
	}
	for _, c := range cases {
		if got := NormalizeDate(c.in); got != c.want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCompare(t *testing.T) {
	record := truth.Record{
		"fullname": "Samuel Johnson",
		"date":     "2026-08-15T00:00:00Z",
		"type":     "Consultation",
	}

	t.Run("all match", func(t *testing.T) {
		claimed := schema.ClaimedAttributes{
			FirstName: "Sam",
			LastName:  "Johnson",
			Date:      "2026-08-15",
			Type:      "consultation",
		}
		if m := compare(claimed, record); len(m) != 0 {
			t.Errorf("got mismatches %+v, want none", m)
		}
	})

	t.Run("name mismatch", func(t *testing.T) {
		claimed := schema.ClaimedAttributes{FirstName: "Tom"}
		m := compare(claimed, record)
		if len(m) != 1 || m[0].Field != "first_name" {
			t.Errorf("got %+v, want one first_name mismatch", m)
		}
	})

	t.Run("date mismatch across formats", func(t *testing.T) {
		claimed := schema.ClaimedAttributes{Date: "08/20/2026"}
		m := compare(claimed, record)
		if len(m) != 1 || m[0].Field != "date" {
			t.Errorf("got %+v, want one date mismatch", m)
		}
	})

	t.Run("empty claims compare clean", func(t *testing.T) {
		if m := compare(schema.ClaimedAttributes{}, record); len(m) != 0 {
			t.Errorf("got %+v, want none for an empty claim", m)
		}
	})

	t.Run("assembled name fallback", func(t *testing.T) {
		rec := truth.Record{"firstname": "Sam", "lastname": "Johnson"}
		claimed := schema.ClaimedAttributes{FirstName: "Sam", LastName: "Johnson"}
		if m := compare(claimed, rec); len(m) != 0 {
			t.Errorf("got %+v, want none via firstname+lastname assembly", m)
		}
	})
}
