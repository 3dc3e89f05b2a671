package compute

import (
	"reflect"
	"regexp"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficsim/internal/road"
)

type cField struct{ typ, name string }

var fieldRE = regexp.MustCompile(`^\s*(float|int) (\w+);$`)

// kernelStruct returns the fields of the typedef named name in the kernel source.
func kernelStruct(t *testing.T, name string) []cField {
	t.Helper()
	end := strings.Index(bodyKernelSource, "} "+name+";")
	require.NotEqual(t, -1, end, "typedef %s not found", name)
	start := strings.LastIndex(bodyKernelSource[:end], "typedef struct {")
	require.NotEqual(t, -1, start)

	var fields []cField
	for _, line := range strings.Split(bodyKernelSource[start:end], "\n") {
		if m := fieldRE.FindStringSubmatch(line); m != nil {
			fields = append(fields, cField{typ: m[1], name: m[2]})
		}
	}
	return fields
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func goStruct(t *testing.T, v any) []cField {
	t.Helper()
	rt := reflect.TypeOf(v)
	fields := make([]cField, rt.NumField())
	for i := range fields {
		f := rt.Field(i)
		switch f.Type.Kind() {
		case reflect.Float32:
			fields[i].typ = "float"
		case reflect.Int32:
			fields[i].typ = "int"
		default:
			t.Fatalf("%s.%s has kind %s; packed records hold only int32 and float32", rt.Name(), f.Name, f.Type.Kind())
		}
		fields[i].name = snake(f.Name)
	}
	return fields
}

func TestKernelLayoutMatchesBody(t *testing.T) {
	assert.Equal(t, goStruct(t, road.Body{}), kernelStruct(t, "Body"))
}

func TestKernelLayoutMatchesRouteParams(t *testing.T) {
	assert.Equal(t, goStruct(t, road.RouteParams{}), kernelStruct(t, "RouteParams"))
}

func TestKernelEntryPoint(t *testing.T) {
	assert.Contains(t, bodyKernelSource, "__kernel void step_bodies(")
	assert.Equal(t, 1, strings.Count(bodyKernelSource, "__kernel"))
}
