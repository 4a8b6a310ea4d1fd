package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

type OutputOptions struct {
	Format OutputFormat
	Quiet  bool
	Writer io.Writer
}

func NewOutputOptions() *OutputOptions {
	return &OutputOptions{
		Format: OutputTable,
		Quiet:  false,
		Writer: os.Stdout,
	}
}

func PrintOutput(data any, opts *OutputOptions) error {
	if opts.Quiet {
		return nil
	}

	out, err := FormatOutput(data, opts.Format)
	if err != nil {
		return err
	}

	fmt.Fprintln(opts.Writer, strings.TrimRight(out, "\n"))
	return nil
}

func FormatOutput(data any, format OutputFormat) (string, error) {
	switch format {
	case OutputJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal JSON: %w", err)
		}
		return string(b), nil
	case OutputYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal YAML: %w", err)
		}
		return string(b), nil
	default:
		return formatTable(data)
	}
}

func formatTable(data any) (string, error) {
	if data == nil {
		return "", nil
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return formatSliceTable(v)
	case reflect.Map:
		return formatMapTable(v)
	case reflect.Struct:
		return formatStructTable(v)
	default:
		return fmt.Sprintf("%v", data), nil
	}
}

func formatSliceTable(v reflect.Value) (string, error) {
	if v.Len() == 0 {
		return "No items", nil
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	headers := fieldNames(v.Index(0))
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	seps := make([]string, len(headers))
	for i, h := range headers {
		seps[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(seps, "\t"))

	for i := 0; i < v.Len(); i++ {
		fmt.Fprintln(w, strings.Join(fieldValues(v.Index(i)), "\t"))
	}

	w.Flush()
	return sb.String(), nil
}

func formatMapTable(v reflect.Value) (string, error) {
	keys := make([]string, 0, v.Len())
	byKey := make(map[string]string, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key := fmt.Sprintf("%v", iter.Key())
		keys = append(keys, key)
		byKey[key] = formatCell(iter.Value().Interface())
	}
	sort.Strings(keys)

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	for _, key := range keys {
		fmt.Fprintf(w, "%s\t%s\n", key, byKey[key])
	}
	w.Flush()
	return sb.String(), nil
}

func formatStructTable(v reflect.Value) (string, error) {
	headers := fieldNames(v)
	values := fieldValues(v)

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	for i, h := range headers {
		fmt.Fprintf(w, "%s\t%s\n", h, values[i])
	}
	w.Flush()
	return sb.String(), nil
}

// fieldNames returns the exported field names of a struct value,
// honoring json tags.
func fieldNames(v reflect.Value) []string {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return []string{"value"}
	}

	t := v.Type()
	var names []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		names = append(names, jsonName(field))
	}
	return names
}

func fieldValues(v reflect.Value) []string {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return []string{formatCell(v.Interface())}
	}

	t := v.Type()
	var values []string
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).PkgPath != "" {
			continue
		}
		values = append(values, formatCell(v.Field(i).Interface()))
	}
	return values
}

func jsonName(field reflect.StructField) string {
	name := field.Tag.Get("json")
	if name == "" || name == "-" {
		return field.Name
	}
	if idx := strings.Index(name, ","); idx != -1 {
		name = name[:idx]
	}
	return name
}

func formatCell(v any) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case float32:
		return fmt.Sprintf("%.2f", val)
	case float64:
		return fmt.Sprintf("%.2f", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
