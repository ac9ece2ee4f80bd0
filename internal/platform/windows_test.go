// SPDX-License-Identifier: MPL-2.0

package platform

import "testing"

func TestIsWindowsReservedName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"CON", true},
		{"con", true},
		{"Con", true},
		{"con.txt", true},
		{"NUL.log", true},
		{"LPT1", true},
		{"lpt9", true},
		{"COM5", true},
		{"AUX", true},
		{"PRN", true},
		{"console", false},
		{"coN1", false},
		{"COM0", false},
		{"LPT10", false},
		{"readme", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsWindowsReservedName(tt.name); got != tt.want {
			t.Errorf("IsWindowsReservedName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
