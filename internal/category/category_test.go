package category

import (
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "gaming", want: "gaming", wantOK: true},
		{in: "  GAMING ", want: "gaming", wantOK: true},
		{in: "elek", want: "elektronica", wantOK: true},
		{in: "mode", want: "mode & accessoires", wantOK: true},
		{in: "tuin", want: "tuin & doe-het-zelf", wantOK: true},
		{in: "", wantOK: false},
		{in: "zzzz", wantOK: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := Match(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("Match(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMatchList(t *testing.T) {
	t.Parallel()
	got := MatchList("gaming, boodschappen, nope, Gaming")
	want := []string{"gaming", "boodschappen"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MatchList = %v, want %v", got, want)
	}
	if got := MatchList(" , "); got != nil {
		t.Fatalf("empty list = %v", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	if got := Normalize(" Mode & Accessoires "); got != "mode & accessoires" {
		t.Fatalf("Normalize = %q", got)
	}
}
