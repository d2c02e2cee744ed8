// Package columnar renders slices of structs as aligned tables, the
// way cmd/ctr's list/show subcommands print images, pods, and xars.
// It follows the `text/tabwriter`-plus-struct-tags shape the pack's
// container-runtime CLIs use for their own "list" output (see e.g.
// clear-containers' runtime list.go formatTabular.Write), generalized
// here into one reflection-driven helper instead of one hand-written
// Write method per row type.
package columnar

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
)

// column tag controls rendering of a single exported field. Write
// `column:"-"` to omit a field, `column:"HEADER"` to rename it, or
// leave the tag absent to use the field's name, upper-cased.
const tagKey = "column"

// Write renders rows (a slice of structs, or of pointers to structs)
// as a tab-aligned table to w: one header line of column names
// followed by one line per row, in field declaration order.
//
// Cells are rendered as follows: a nil pointer is "-", a non-nil
// pointer is rendered as the value it points to; a value implementing
// fmt.Stringer (time.Time included) uses its String method; an empty
// slice is "-" and any other slice is its elements joined by ",";
// a bool is "yes" or "no"; everything else uses fmt's default verb.
func Write(w io.Writer, rows interface{}) error {
	v := reflect.ValueOf(rows)
	if v.Kind() != reflect.Slice {
		return fmt.Errorf("columnar: Write expects a slice, got %T", rows)
	}

	tw := tabwriter.NewWriter(w, 4, 4, 2, ' ', 0)

	elemType, ok := rowStructType(v.Type())
	if !ok {
		return fmt.Errorf("columnar: Write expects a slice of structs, got %T", rows)
	}

	fields := visibleFields(elemType)
	if len(fields) == 0 {
		return nil
	}

	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = columnHeader(f)
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for i := 0; i < v.Len(); i++ {
		row := reflect.Indirect(v.Index(i))
		cells := make([]string, len(fields))
		for j, f := range fields {
			cells[j] = formatCell(row.FieldByIndex(f.Index))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	return tw.Flush()
}

func rowStructType(sliceType reflect.Type) (reflect.Type, bool) {
	elem := sliceType.Elem()
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, false
	}
	return elem, true
}

func visibleFields(t reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, ok := f.Tag.Lookup(tagKey); ok && tag == "-" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func columnHeader(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup(tagKey); ok && tag != "" {
		return tag
	}
	return strings.ToUpper(f.Name)
}

func formatCell(v reflect.Value) string {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "-"
		}
		v = v.Elem()
	}
	if stringer, ok := v.Interface().(fmt.Stringer); ok {
		return stringer.String()
	}
	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 {
			return "-"
		}
		parts := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts[i] = fmt.Sprint(v.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	case reflect.Bool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprint(v.Interface())
	}
}
