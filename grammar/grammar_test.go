package grammar

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"1k", 1024, false},
		{"2.5M", 2621440, false},
		{"1tb", 1099511627776, false},
		{"", 0, true},
		{"3xyz", 0, true},
		{"1GB", 1073741824, false},
		{"512b", 512, false},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAlignDownMiB(t *testing.T) {
	const mib = 1024 * 1024
	if got := AlignDownMiB(mib + 100); got != mib {
		t.Errorf("AlignDownMiB(mib+100) = %d, want %d", got, mib)
	}
	if got := AlignDownMiB(0); got != 0 {
		t.Errorf("AlignDownMiB(0) = %d, want 0", got)
	}
}

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"random", false},
		{"01234567-89ab-cdef-0123-456789abcdef", false},
		{"0-0-0-0-0", true},
		{"zzzzzzzz-89ab-cdef-0123-456789abcdef", true},
		{"01234567-89ab-cdef-0123", true},
		{"", true},
	}
	for _, tt := range tests {
		err := ValidateUUID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateUUID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
