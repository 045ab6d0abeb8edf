package render

import (
	"strings"
	"testing"
)

func TestMarkdownHTML(t *testing.T) {
	t.Parallel()
	md := NewMarkdown()

	tests := []struct {
		name     string
		src      string
		contains []string
		absent   []string
	}{
		{
			name:     "emphasis and lists",
			src:      "**Tip:**\n\n- draft early\n- revise",
			contains: []string{"<strong>Tip:</strong>", "<li>draft early</li>"},
		},
		{
			name:     "gfm table",
			src:      "| a | b |\n|---|---|\n| 1 | 2 |",
			contains: []string{"<table>", "<td>1</td>"},
		},
		{
			name:     "raw html dropped",
			src:      "hello <script>alert(1)</script>",
			contains: []string{"hello"},
			absent:   []string{"<script>"},
		},
		{
			name:     "hard wraps",
			src:      "line one\nline two",
			contains: []string{"<br>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := string(md.HTML(tt.src))
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in %q", want, out)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(out, bad) {
					t.Errorf("did not expect %q in %q", bad, out)
				}
			}
		})
	}
}
