package main

import (
	"testing"

	"github.com/docsync/docsync/pkg/protocol"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		want    protocol.Range
		wantErr bool
	}{
		{"3 4", protocol.Range{Index: 3, Length: 4}, false},
		{"  0   0 ", protocol.Range{}, false},
		{"3", protocol.Range{}, true},
		{"a 1", protocol.Range{}, true},
		{"1 b", protocol.Range{}, true},
		{"-1 2", protocol.Range{}, true},
		{"1 2 3", protocol.Range{}, true},
	}
	for _, tc := range tests {
		got, err := parseRange(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseRange(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseRange(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
