// Package redact scrubs credentials from structured data before it is
// logged, persisted or sent anywhere.
//
// Two mechanisms apply. A map entry whose key looks sensitive has its whole
// value replaced. Every other string is scanned for known secret shapes and
// each matched span is replaced in full, so no partial boundary of the secret
// survives.
package redact

import (
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Token replaces every redacted value
const Token = "[REDACTED]"

// DefaultKeys are the sensitive key fragments matched case-insensitively as
// exact keys or substrings.
var DefaultKeys = []string{
	"password",
	"passwd",
	"passphrase",
	"secret",
	"token",
	"api_key",
	"access_key",
	"private_key",
	"credential",
	"community",
	"auth_key",
	"priv_key",
}

// metadataSuffixes mark keys that name or count a secret rather than hold it
// (credential_id, token_count, password_changed_at).
var metadataSuffixes = []string{"_id", "_ids", "_count", "_at"}

// Redactor scrubs values. It is immutable after New and safe for concurrent use.
type Redactor struct {
	keys     []string // snake_case fragments
	compact  []string // fragments with underscores removed
	patterns []pattern
}

// pattern replaces its whole match except capture group 1, which holds the
// leading context that must be preserved (whitespace, a separator).
type pattern struct {
	name string
	re   *regexp.Regexp
}

// New builds a Redactor over DefaultKeys plus extraKeys.
func New(extraKeys ...string) *Redactor {
	seen := map[string]bool{}
	var keys []string
	for _, k := range append(append([]string{}, DefaultKeys...), extraKeys...) {
		k = normalizeKey(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r := &Redactor{keys: keys}
	for _, k := range keys {
		r.compact = append(r.compact, strings.ReplaceAll(k, "_", ""))
	}
	r.patterns = buildPatterns(keys)
	return r
}

// Keys returns the normalized sensitive key fragments
func (r *Redactor) Keys() []string {
	return append([]string(nil), r.keys...)
}

// IsSensitiveKey reports whether values stored under key must be hidden.
func (r *Redactor) IsSensitiveKey(key string) bool {
	k := normalizeKey(key)
	if k == "" {
		return false
	}
	for _, suffix := range metadataSuffixes {
		if strings.HasSuffix(k, suffix) {
			return false
		}
	}
	compactKey := strings.ReplaceAll(k, "_", "")
	for i, frag := range r.keys {
		if k == frag || strings.Contains(k, frag) || strings.Contains(compactKey, r.compact[i]) {
			return true
		}
	}
	return false
}

// Redact returns a scrubbed copy of v. Maps with string keys, slices and
// arrays of any element type are copied with the same container type and
// keys; other values are returned unchanged.
func (r *Redactor) Redact(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return r.RedactString(val)
	case map[string]any:
		return r.RedactMap(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			if r.IsSensitiveKey(k) {
				out[k] = Token
			} else {
				out[k] = r.RedactString(s)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.Redact(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = r.RedactString(s)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, m := range val {
			out[i] = r.RedactMap(m)
		}
		return out
	case error:
		return r.RedactString(val.Error())
	default:
		return r.redactValue(reflect.ValueOf(v)).Interface()
	}
}

// redactValue handles containers the type switch does not name: maps with
// string keys, slices and arrays of any element type, and named string
// types. The result has the same type as rv.
func (r *Redactor) redactValue(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.String:
		return reflect.ValueOf(r.RedactString(rv.String())).Convert(rv.Type())
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
			return rv
		}
		elem := rv.Type().Elem()
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if r.IsSensitiveKey(iter.Key().String()) {
				out.SetMapIndex(iter.Key(), tokenValue(elem))
				continue
			}
			out.SetMapIndex(iter.Key(), r.redactElem(iter.Value(), elem))
		}
		return out
	case reflect.Slice:
		if rv.IsNil() || rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(r.redactElem(rv.Index(i), rv.Type().Elem()))
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(r.redactElem(rv.Index(i), rv.Type().Elem()))
		}
		return out
	default:
		return rv
	}
}

// redactElem scrubs one element and converts it back to the element type
func (r *Redactor) redactElem(v reflect.Value, typ reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	res := reflect.ValueOf(r.Redact(v.Interface()))
	switch {
	case !res.IsValid():
		return reflect.Zero(typ)
	case res.Type().AssignableTo(typ):
		return res
	case res.Type().ConvertibleTo(typ):
		return res.Convert(typ)
	}
	return v
}

// tokenValue is the replacement stored under a sensitive key. Values that
// cannot hold a string are zeroed.
func tokenValue(typ reflect.Type) reflect.Value {
	tok := reflect.ValueOf(Token)
	switch {
	case tok.Type().AssignableTo(typ):
		return tok
	case typ.Kind() == reflect.String:
		return tok.Convert(typ)
	}
	return reflect.Zero(typ)
}

// RedactMap scrubs a map. A nil map stays nil.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.IsSensitiveKey(k) {
			out[k] = Token
			continue
		}
		out[k] = r.Redact(v)
	}
	return out
}

// RedactString replaces every secret-shaped span in s with Token.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.re.ReplaceAllString(s, "${1}"+Token)
	}
	return s
}

// normalizeKey lowercases key, splits camelCase and maps '-', '.' and spaces
// to '_'.
func normalizeKey(key string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(key))
	for i, c := range runes {
		switch {
		case c == '-' || c == ' ' || c == '.':
			b.WriteRune('_')
		case unicode.IsUpper(c):
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(c))
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
