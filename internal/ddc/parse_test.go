package ddc

import (
	"reflect"
	"testing"
)

// Listing where the stale entry is labelled invalid.
const detectWithInvalid = `Display 1
   I2C bus:          /dev/i2c-4
   Monitor:          Invalid`

const detectTwoDisplays = `Display 1
   I2C bus:          /dev/i2c-4
   Monitor:          DEL:DELL U2415:7MT0186J1ABL

Display 2
   I2C bus:          /dev/i2c-6
   Monitor:          Measure: GSM:LG ULTRAWIDE:

Display 3
   I2C bus:          /dev/i2c-7
   Monitor:          invalid display`

func TestParseDisplayIDs_KeepsInvalidEntries(t *testing.T) {
	got := ParseDisplayIDs(detectWithInvalid)
	want := []MonitorID{"1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseDisplayIDs = %v, want %v", got, want)
	}
}

func TestParseDisplays_DropsInvalidEntries(t *testing.T) {
	got := ParseDisplays(detectWithInvalid)
	if len(got) != 0 {
		t.Errorf("ParseDisplays = %v, want empty", got)
	}
}

func TestParseDisplays_Models(t *testing.T) {
	got := ParseDisplays(detectTwoDisplays)
	want := []Display{
		{ID: "1", Model: "DEL:DELL U2415:7MT0186J1ABL"},
		{ID: "2", Model: "GSM:LG ULTRAWIDE"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseDisplays = %#v, want %#v", got, want)
	}
}

func TestParseDisplayIDs_Order(t *testing.T) {
	got := ParseDisplayIDs(detectTwoDisplays)
	want := []MonitorID{"1", "2", "3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseDisplayIDs = %v, want %v", got, want)
	}
}

func TestParseDisplayIDs_Empty(t *testing.T) {
	if got := ParseDisplayIDs("No displays found."); len(got) != 0 {
		t.Errorf("ParseDisplayIDs = %v, want empty", got)
	}
}

func TestParseBrightness(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
		ok     bool
	}{
		{name: "brief_reply", output: "VCP 10 C 50 100", want: 50, ok: true},
		{name: "zero", output: "VCP 10 C 0 100", want: 0, ok: true},
		{name: "extra_whitespace", output: "VCP  10\tC   75 100\n", want: 75, ok: true},
		{name: "missing_type_marker", output: "VCP 10 SNC x05", ok: false},
		{name: "error_reply", output: "VCP 10 ERR", ok: false},
		{name: "truncated", output: "VCP 10 C", ok: false},
		{name: "non_numeric", output: "VCP 10 C abc 100", ok: false},
		{name: "no_feature", output: "Display not found", ok: false},
		{name: "empty", output: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseBrightness(tt.output)
			if ok != tt.ok {
				t.Fatalf("ParseBrightness(%q) ok = %v, want %v", tt.output, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseBrightness(%q) = %d, want %d", tt.output, got, tt.want)
			}
		})
	}
}
