package output

import (
	"encoding/json"
	"io"
	"reflect"

	"gopkg.in/yaml.v3"
)

// PrintJSON writes data as indented JSON. HTML characters are not escaped,
// so certificate subjects such as "/O=A&B/CN=x" print as they are.
func PrintJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(emptyIfNil(data))
}

// PrintYAML writes data as YAML with two-space indentation.
func PrintYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(emptyIfNil(data)); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// emptyIfNil turns a nil slice into an empty one, so an empty listing
// prints [] rather than null.
func emptyIfNil(data any) any {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return data
}
