package linemap

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	assert.Nil(t, Split(""))
	assert.Equal(t, []string{"a", "b"}, Split("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, Split("a\nb"))
	assert.Equal(t, []string{"a", "", "b"}, Split("a\n\nb\n"))
	assert.Equal(t, []string{""}, Split("\n"))
}

func TestMap_SingleLineChange(t *testing.T) {
	m := Map(Split("a\nb\nc\n"), Split("a\nX\nc\n"))
	assert.Equal(t, []int{0, -1, 2}, m.NewToOld)
	assert.Equal(t, []int{0, -1, 2}, m.OldToNew)
	assert.Equal(t, "2", m.Changed().String())
}

func TestMap_InsertionShiftsLaterLines(t *testing.T) {
	m := Map(Split("a\nb\nc"), Split("new1\nnew2\na\nb\nc"))
	assert.Equal(t, []int{-1, -1, 0, 1, 2}, m.NewToOld)
	assert.Equal(t, "1-2", m.Changed().String())
}

func TestMap_Deletion(t *testing.T) {
	m := Map(Split("a\nb\nc\nd"), Split("a\nd"))
	assert.Equal(t, []int{0, 3}, m.NewToOld)
	assert.Equal(t, []int{0, -1, -1, 1}, m.OldToNew)
	assert.True(t, m.Changed().IsEmpty())
}

func TestMap_EmptySides(t *testing.T) {
	m := Map(nil, Split("a\nb"))
	assert.Equal(t, "1-2", m.Changed().String())

	m = Map(Split("a\nb"), nil)
	assert.Empty(t, m.NewToOld)
	assert.Equal(t, []int{-1, -1}, m.OldToNew)
}

func TestMap_Identical(t *testing.T) {
	lines := Split("x\ny\nz")
	m := Map(lines, lines)
	assert.True(t, m.Identical())
	assert.True(t, m.Changed().IsEmpty())
}

func TestMap_DuplicateLines(t *testing.T) {
	old := Split("}\n}\n}")
	m := Map(old, Split("}\nfoo\n}\n}"))
	assert.Equal(t, "2", m.Changed().String())
	for i, o := range m.NewToOld {
		if o >= 0 {
			assert.Equal(t, "}", old[o], "line %d", i)
		}
	}
}

func TestMap_LargeFile(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20000; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	old := Split(b.String())
	newLines := append([]string{}, old...)
	newLines[10000] = "edited"
	newLines = append(newLines[:500], append([]string{"inserted"}, newLines[500:]...)...)

	m := Map(old, newLines)
	require.Len(t, m.NewToOld, len(newLines))
	assert.Equal(t, "501,10002", m.Changed().String())
	assert.Equal(t, 9999, m.NewToOld[10000])
}

func TestCarry(t *testing.T) {
	m := Map(Split("a\nb\nc"), Split("a\nnew\nc\nd"))
	got := Carry(m, []string{"A", "B", "C"}, "human")
	assert.Equal(t, []string{"A", "human", "C", "human"}, got)
}

func TestRetained(t *testing.T) {
	m := Map(Split("a\nb"), Split("a\nc"))
	assert.True(t, m.Retained(0))
	assert.False(t, m.Retained(1))
	assert.False(t, m.Retained(5))
}

func TestDifferWithin(t *testing.T) {
	d := NewDiffer(time.Second)
	assert.Same(t, d, d.Within(time.Time{}))
	assert.Same(t, d, d.Within(time.Now().Add(time.Hour)))

	clamped := d.Within(time.Now().Add(100 * time.Millisecond))
	assert.LessOrEqual(t, clamped.timeout, 100*time.Millisecond)
	assert.Equal(t, minTimeout, d.Within(time.Now().Add(-time.Minute)).timeout)

	m := clamped.Map(Split("a\nb\n"), Split("a\nX\nb\n"))
	assert.Equal(t, []int{0, -1, 1}, m.NewToOld)
}
