package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	orig := Logf
	t.Cleanup(func() { Logf = orig })

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("spawned %d cars", 3)
	assert.Equal(t, []string{"spawned 3 cars"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted %s", "line") })
	assert.Len(t, got, 1)
}
