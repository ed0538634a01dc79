package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbridge-systems/crmsync/internal/schema"
)

const testSchema = `
entities:
  candidate:
    fields:
      phone:
        data_type: phone
      skills:
        data_type: multi_value
      date_available:
        data_type: timestamp
      first_name:
        data_type: string
`

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0o644))

	registry, err := schema.Load(path, nil)
	require.NoError(t, err)
	return registry
}

func TestPhone(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ten digits get country code", "(555) 010-1234", "+15550101234"},
		{"eleven with leading one", "1-555-010-1234", "+15550101234"},
		{"already e164", "+15550101234", "+15550101234"},
		{"international keeps digits", "+44 20 7946 0958", "+442079460958"},
		{"no digits unchanged", "n/a", "n/a"},
		{"empty unchanged", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Phone(tt.in))
		})
	}
}

func TestMultiValue(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   []string
		wantOK bool
	}{
		{"string slice", []string{" go ", "sql"}, []string{"go", "sql"}, true},
		{"any slice", []any{"go", "sql"}, []string{"go", "sql"}, true},
		{"json array string", `["go","sql"]`, []string{"go", "sql"}, true},
		{"comma separated", "go, sql ,k8s", []string{"go", "sql", "k8s"}, true},
		{"single value", "go", []string{"go"}, true},
		{"empty string", "", []string{}, true},
		{"number unsupported", 42, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MultiValue(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   string
		wantOK bool
	}{
		{"rfc3339 z", "2026-03-01T12:00:00Z", "2026-03-01T12:00:00Z", true},
		{"rfc3339 offset", "2026-03-01T12:00:00+02:00", "2026-03-01T10:00:00Z", true},
		{"no zone treated as utc", "2026-03-01T12:00:00", "2026-03-01T12:00:00Z", true},
		{"space separator", "2026-03-01 12:00:00", "2026-03-01T12:00:00Z", true},
		{"date only", "2026-03-01", "2026-03-01T00:00:00Z", true},
		{"epoch seconds", float64(1767225600), "2026-01-01T00:00:00Z", true},
		{"epoch millis", float64(1767225600000), "2026-01-01T00:00:00Z", true},
		{"garbage", "not-a-date", "", false},
		{"bool unsupported", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Timestamp(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayload(t *testing.T) {
	n := New(testRegistry(t))

	out, warnings := n.Payload("candidate", map[string]any{
		"phone":          "555-010-1234",
		"skills":         "go, sql",
		"date_available": "2026-03-01",
		"first_name":     "Ada",
		"custom_field":   "passes through",
	})

	assert.Empty(t, warnings)
	assert.Equal(t, "+15550101234", out["phone"])
	assert.Equal(t, []string{"go", "sql"}, out["skills"])
	assert.Equal(t, "2026-03-01T00:00:00Z", out["date_available"])
	assert.Equal(t, "Ada", out["first_name"])
	assert.Equal(t, "passes through", out["custom_field"])
}

func TestPayload_DropsUnparsableTimestamp(t *testing.T) {
	n := New(testRegistry(t))

	out, warnings := n.Payload("candidate", map[string]any{
		"date_available": "whenever",
		"first_name":     "Ada",
	})

	require.Len(t, warnings, 1)
	assert.Equal(t, "date_available", warnings[0].Field)
	_, present := out["date_available"]
	assert.False(t, present)
	assert.Equal(t, "Ada", out["first_name"])
}

func TestPayload_UnknownEntityPassesThrough(t *testing.T) {
	n := New(testRegistry(t))

	in := map[string]any{"phone": "555-010-1234"}
	out, warnings := n.Payload("placement", in)

	assert.Empty(t, warnings)
	assert.Equal(t, "555-010-1234", out["phone"])
}
