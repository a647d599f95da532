package store

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Document categories allowed in object keys.
const (
	CategoryDocuments  = "documents"
	CategoryAgreements = "agreements"
)

// Key locates one supplier document:
// {framework}/{documents|agreements}/{supplierID}/{supplierID}-{name}.{ext}
type Key struct {
	FrameworkSlug string
	Category      string
	SupplierID    int
	Name          string
	Ext           string
}

// String renders the key in its canonical form.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d/%d-%s.%s", k.FrameworkSlug, k.Category, k.SupplierID, k.SupplierID, k.Name, k.Ext)
}

// SupplierPrefix is the listing prefix for every document a supplier holds
// in one category of one framework.
func SupplierPrefix(frameworkSlug, category string, supplierID int) string {
	return fmt.Sprintf("%s/%s/%d/", frameworkSlug, category, supplierID)
}

// ParseKey decomposes a canonical object key. It tolerates names with
// embedded dashes; only the leading supplier id prefix is stripped.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("object key %q: expected 4 segments", raw)
	}
	k := Key{FrameworkSlug: parts[0], Category: parts[1]}
	if k.Category != CategoryDocuments && k.Category != CategoryAgreements {
		return Key{}, fmt.Errorf("object key %q: unknown category %q", raw, k.Category)
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("object key %q: supplier segment: %w", raw, err)
	}
	k.SupplierID = id
	base := parts[3]
	ext := strings.TrimPrefix(path.Ext(base), ".")
	if ext == "" {
		return Key{}, fmt.Errorf("object key %q: missing extension", raw)
	}
	k.Ext = ext
	stem := strings.TrimSuffix(base, "."+ext)
	prefix := parts[2] + "-"
	if !strings.HasPrefix(stem, prefix) {
		return Key{}, fmt.Errorf("object key %q: filename not prefixed with supplier id", raw)
	}
	k.Name = strings.TrimPrefix(stem, prefix)
	return k, nil
}
