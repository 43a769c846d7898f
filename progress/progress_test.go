package progress

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	var tests = []struct {
		n    int64
		want string
	}{
		{0, "0.0 B"},
		{1023, "1023.0 B"},
		{1536, "1.5 KB"},
		{10 << 30, "10.0 GB"},
		{3 << 40, "3.0 TB"},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, FormatBytes(test.n))
	}
}

func TestFormatRelativeDate(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	var tests = []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{30 * time.Hour, "yesterday"},
		{4 * 24 * time.Hour, "4d ago"},
		{15 * 24 * time.Hour, "2w ago"},
		{90 * 24 * time.Hour, "3mo ago"},
		{400 * 24 * time.Hour, "2024-02-04"},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, FormatRelativeDate(now.Add(-test.ago), now), "ago %s", test.ago)
	}
}

func TestBarRender(t *testing.T) {
	b := &Bar{label: "Downloading a.bin", total: 200, width: 80, start: time.Now()}
	b.current = 100

	line := b.render(b.start)
	assert.Contains(t, line, "Downloading a.bin [")
	assert.Contains(t, line, " 50.0%")
	assert.Equal(t, 25, strings.Count(line, "="))
	assert.LessOrEqual(t, len(line), 80)
}

func TestBarSilentWhenDisabled(t *testing.T) {
	var out bytes.Buffer
	b := &Bar{out: &out, label: "x", total: 10, width: 80, start: time.Now()}
	b.Update(5)
	b.Done()
	assert.Empty(t, out.String())
}

func TestNewLogMilestones(t *testing.T) {
	var out bytes.Buffer
	l := log.New(&out, "", 0)
	report := NewLog(l, "Sending big.iso", 1000)

	for _, n := range []int64{100, 260, 600, 999, 1000} {
		report(n)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "25%")
	assert.Contains(t, lines[2], "75%")
	assert.Contains(t, lines[3], "100%")
}
