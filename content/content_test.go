package content

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"definition", Definition, false},
		{"FUNFACT", FunFact, false},
		{"dateFact", DateFact, false},
		{"joke", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	if got := FunFact.Label(); got != "FUNFACT" {
		t.Errorf("Label() = %q, want %q", got, "FUNFACT")
	}
	if got := DateFact.Noun(); got != "date fact" {
		t.Errorf("Noun() = %q, want %q", got, "date fact")
	}
}

func TestValid(t *testing.T) {
	for _, ct := range All {
		if !ct.Valid() {
			t.Errorf("%q should be valid", ct)
		}
	}
	if Type("joke").Valid() {
		t.Error("unknown type should not be valid")
	}
}
