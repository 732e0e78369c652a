package config

import (
	"testing"
)

func TestSplitQuotedFields(t *testing.T) {
	in := `-f interface/stlink.cfg -c 'adapter speed 4000' -c tra'n\'s'port`
	tgt := []string{"-f", "interface/stlink.cfg", "-c", "adapter speed 4000", "-c", "tran'sport"}
	out := SplitQuotedFields(in, '\'')

	if len(tgt) != len(out) {
		t.Fatalf("expected %#v, got %#v (len mismatch)", tgt, out)
	}

	for i := range tgt {
		if tgt[i] != out[i] {
			t.Fatalf("expected %#v, got %#v (mismatch at %d)", tgt, out, i)
		}
	}
}

func TestSplitDoubleQuotedFields(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{
			name:     "generic test case",
			in:       `rtt setup 0x20000000 4096 "SEGGER RTT"`,
			expected: []string{"rtt", "setup", "0x20000000", "4096", "SEGGER RTT"},
		},
		{
			name:     "embedded quotes",
			in:       `-c "reset \"halt\"" -c init`,
			expected: []string{"-c", `reset "halt"`, "-c", "init"},
		},
		{
			name:     "with empty string in the end",
			in:       `-device "" `,
			expected: []string{"-device", ""},
		},
		{
			name:     "with empty string at the beginning",
			in:       ` "" -if SWD`,
			expected: []string{"", "-if", "SWD"},
		},
		{
			name:     "lots of spaces",
			in:       `    -if"SWD"   `,
			expected: []string{"-ifSWD"},
		},
		{
			name:     "only empty string",
			in:       ` "" "" "" """" "" `,
			expected: []string{"", "", "", "", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := SplitQuotedFields(tt.in, '"')
			if len(tt.expected) != len(out) {
				t.Fatalf("expected %#v, got %#v (len mismatch)", tt.expected, out)
			}
			for i := range tt.expected {
				if tt.expected[i] != out[i] {
					t.Fatalf("expected %#v, got %#v (mismatch at %d)", tt.expected, out, i)
				}
			}
		})
	}
}
