// internal/decode/decode_test.go
package decode

import "testing"

func TestPosition(t *testing.T) {
	tests := []struct {
		name string
		desc string
		x, y int
		ok   bool
	}{
		{"english move", "P1 moved to (3, 5)", 3, 5, true},
		{"chinese move", "P1 移动到 (12,7)", 12, 7, true},
		{"no spaces", "at(0,0)", 0, 0, true},
		{"negative", "teleported to (-1, 4)", -1, 4, true},
		{"no position", "P1 is resting", 0, 0, false},
		{"malformed pair", "moved to (a, b)", 0, 0, false},
		{"empty", "", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, ok := Position(tt.desc)
			if ok != tt.ok {
				t.Fatalf("Position(%q) ok = %v, want %v", tt.desc, ok, tt.ok)
			}
			if !ok {
				return
			}
			if x != tt.x || y != tt.y {
				t.Errorf("Position(%q) = (%d, %d), want (%d, %d)", tt.desc, x, y, tt.x, tt.y)
			}
		})
	}
}

func TestExtractSpeech(t *testing.T) {
	tests := []struct {
		name    string
		desc    string
		target  string
		content string
	}{
		{"english targeted", "Said to P2: 'Hello'", "P2", "Hello"},
		{"chinese targeted", "对 P2 说：“你好”", "P2", "你好"},
		{"chinese plain", "说：“放我出去”", "", "放我出去"},
		{"chinese halfwidth quotes", `对 G1 说："别过来"`, "G1", "别过来"},
		{"no marker", "Just resting.", "", "Just resting."},
		{"leading context kept out", "G1 shouted. Said to P3: 'Back to your cell'", "P3", "Back to your cell"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSpeech(tt.desc)
			if got.Target != tt.target {
				t.Errorf("target = %q, want %q", got.Target, tt.target)
			}
			if got.Content != tt.content {
				t.Errorf("content = %q, want %q", got.Content, tt.content)
			}
		})
	}
}
