package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatOutput(t *testing.T) {
	tests := []struct {
		name     string
		data     any
		format   OutputFormat
		contains string
	}{
		{
			name:     "json format",
			data:     map[string]string{"key": "value"},
			format:   OutputJSON,
			contains: `"key"`,
		},
		{
			name:     "yaml format",
			data:     map[string]string{"key": "value"},
			format:   OutputYAML,
			contains: "key: value",
		},
		{
			name:     "table format with map",
			data:     map[string]string{"name": "test", "value": "123"},
			format:   OutputTable,
			contains: "name",
		},
		{
			name:     "table format with nil",
			data:     nil,
			format:   OutputTable,
			contains: "",
		},
		{
			name:     "unknown format defaults to table",
			data:     map[string]string{"key": "value"},
			format:   OutputFormat("unknown"),
			contains: "key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := FormatOutput(tt.data, tt.format)
			assert.NoError(t, err)
			assert.Contains(t, output, tt.contains)
		})
	}
}

func TestFormatOutput_SliceTable(t *testing.T) {
	rows := []modelRow{
		{Name: "qwen3-4b.gguf", SizeGB: 2.53},
		{Name: "llama-8b.gguf", SizeGB: 4.92},
	}

	output, err := FormatOutput(rows, OutputTable)
	assert.NoError(t, err)
	assert.Contains(t, output, "name")
	assert.Contains(t, output, "size_gb")
	assert.Contains(t, output, "qwen3-4b.gguf")
	assert.Contains(t, output, "2.53")
}

func TestFormatOutput_EmptySlice(t *testing.T) {
	output, err := FormatOutput([]modelRow{}, OutputTable)
	assert.NoError(t, err)
	assert.Equal(t, "No items", output)
}

func TestFormatOutput_StructTable(t *testing.T) {
	output, err := FormatOutput(modelRow{Name: "a.gguf", SizeGB: 1.5}, OutputTable)
	assert.NoError(t, err)
	assert.Contains(t, output, "name")
	assert.Contains(t, output, "a.gguf")
}

func TestFormatOutput_MapIsSorted(t *testing.T) {
	output, err := FormatOutput(map[string]string{"zeta": "1", "alpha": "2"}, OutputTable)
	assert.NoError(t, err)
	assert.Less(t, bytes.IndexByte([]byte(output), 'a'), bytes.Index([]byte(output), []byte("zeta")))
}

func TestPrintOutput_Quiet(t *testing.T) {
	buf := &bytes.Buffer{}
	opts := &OutputOptions{Format: OutputJSON, Quiet: true, Writer: buf}

	err := PrintOutput(map[string]string{"key": "value"}, opts)
	assert.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestPrintOutput_Writes(t *testing.T) {
	buf := &bytes.Buffer{}
	opts := &OutputOptions{Format: OutputJSON, Writer: buf}

	err := PrintOutput(map[string]string{"key": "value"}, opts)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), `"key": "value"`)
}
