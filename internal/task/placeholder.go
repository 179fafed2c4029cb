package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// metadataFile sits next to stored product results.
const metadataFile = "metadata.json"

var placeholders = []struct {
	token string
	key   string
}{
	{"${PRODUCT_NAME}", "productName"},
	{"${PRODUCT_UUID}", "productUuid"},
	{"${SERIALNUMBER}", "serialNumber"},
	{"${UUID}", "uuid"},
	{"${DATE}", "date"},
	{"${EXTENDED_PRODUCT_INFO}", "extendedProductInfo"},
}

// PlaceholderValues reads metadata.json beside path (or inside it, when path is a
// directory) and returns the placeholder token -> value map.
func PlaceholderValues(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	dir := path
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		dir = filepath.Dir(path)
	}

	b, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var md map[string]any
	if err := dec.Decode(&md); err != nil {
		return nil, fmt.Errorf("decode %s: %w", metadataFile, err)
	}

	out := make(map[string]string, len(placeholders))
	for _, p := range placeholders {
		v, ok := md[p.key]
		if !ok || v == nil {
			continue
		}
		out[p.token] = stringify(v)
	}
	return out, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// ExpandPlaceholders substitutes known tokens in every setting value.
// Tokens without a value are left as they are.
func ExpandPlaceholders(settings, values map[string]string) map[string]string {
	if len(values) == 0 {
		return settings
	}
	pairs := make([]string, 0, 2*len(values))
	for _, p := range placeholders {
		if v, ok := values[p.token]; ok {
			pairs = append(pairs, p.token, v)
		}
	}
	rep := strings.NewReplacer(pairs...)
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		out[k] = rep.Replace(v)
	}
	return out
}
