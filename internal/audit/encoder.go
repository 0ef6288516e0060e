// Package audit renders change records into append-only text entries and
// delivers them to a broadcast sink.
package audit

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

const (
	// MaxValueLength is the longest string rendered verbatim
	MaxValueLength = 100
	truncatedKeep  = 97
	indentStep     = "  "
)

// values stay on one line so they can never forge a header key or close
// the change block
var valueEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	"<", "&lt;",
	">", "&gt;",
)

var headerEscaper = strings.NewReplacer("\n", `\n`, "\r", `\r`)

// EncodeChange renders a single-change transaction:
//
//	Transaction: <txId>
//	<timestamp>
//
//	(change:
//	  operation: ...
//	)
func EncodeChange(txID string, ts time.Time, rec models.ChangeRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Transaction: %s\n", txID)
	b.WriteString(models.FormatTime(ts))
	b.WriteString("\n\n")

	b.WriteString("(change:\n")
	fmt.Fprintf(&b, "%soperation: %s\n", indentStep, rec.Operation)
	fmt.Fprintf(&b, "%sentity: %s\n", indentStep, headerEscaper.Replace(rec.Entity))
	fmt.Fprintf(&b, "%suserId: %s\n", indentStep, headerEscaper.Replace(rec.UserID))

	fmt.Fprintf(&b, "%sdata:\n", indentStep)
	writeFields(&b, rec.Data, 2)

	if rec.PreviousData != nil {
		fmt.Fprintf(&b, "%spreviousData:\n", indentStep)
		writeFields(&b, rec.PreviousData, 2)
	}
	b.WriteString(")")

	return b.String()
}

// EncodeBatch renders a batch transaction as one summary line per change.
// Nested detail is dropped to stay within channel message limits.
func EncodeBatch(txID string, ts time.Time, recs []models.ChangeRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Batch Transaction: %s\n", txID)
	b.WriteString(models.FormatTime(ts))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d changes\n\n", len(recs))

	for i, rec := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s %s (user: %s)", i+1, rec.Operation, headerEscaper.Replace(rec.Entity), headerEscaper.Replace(rec.UserID))
	}

	return b.String()
}

func writeFields(b *strings.Builder, fields models.Fields, depth int) {
	indent := strings.Repeat(indentStep, depth)
	for _, f := range fields {
		if nested, ok := asFields(f.Value); ok {
			fmt.Fprintf(b, "%s%s:\n", indent, f.Key)
			writeFields(b, nested, depth+1)
			continue
		}
		fmt.Fprintf(b, "%s%s: %s\n", indent, f.Key, formatValue(f.Value))
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return `"` + FormatString(val) + `"`
	case time.Time:
		return `"` + models.FormatTime(val) + `"`
	case fmt.Stringer:
		return `"` + FormatString(val.String()) + `"`
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("[%d items]", rv.Len())
	case reflect.Pointer:
		if rv.IsNil() {
			return "null"
		}
		return formatValue(rv.Elem().Interface())
	}
	return fmt.Sprintf("%v", v)
}

// asFields treats nested payloads and string-keyed maps as objects
func asFields(v any) (models.Fields, bool) {
	switch val := v.(type) {
	case models.Fields:
		return val, true
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(models.Fields, 0, len(keys))
		for _, k := range keys {
			out = append(out, models.Field{Key: k, Value: val[k]})
		}
		return out, true
	}
	return nil, false
}

// FormatString truncates long values, escapes markup characters and turns
// line breaks into \n. Truncation counts characters, not bytes, and happens
// before escaping.
func FormatString(s string) string {
	runes := []rune(s)
	if len(runes) > MaxValueLength {
		s = string(runes[:truncatedKeep]) + "..."
	}
	return valueEscaper.Replace(s)
}
