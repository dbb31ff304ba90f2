package table

import (
	"fmt"

	"github.com/sagemathinc/patchflow/internal/errs"
)

// Config configures a table codec instance: the primary key column(s) a
// record is addressed by, and which string-valued columns accept
// diff-encoded (array) values instead of plain overwrites
// (SPEC_FULL.md §A.4.2.3).
type Config struct {
	PrimaryKeys []string
	StringCols  []string

	pkSet  map[string]bool
	colSet map[string]bool
}

// NewConfig validates and normalizes a Config. At least one primary key
// column is required.
func NewConfig(primaryKeys, stringCols []string) (Config, error) {
	if len(primaryKeys) == 0 {
		return Config{}, fmt.Errorf("table: %w: at least one primary key column is required", errs.ErrConfigError)
	}
	c := Config{PrimaryKeys: append([]string(nil), primaryKeys...), StringCols: append([]string(nil), stringCols...)}
	c.pkSet = make(map[string]bool, len(primaryKeys))
	for _, k := range primaryKeys {
		c.pkSet[k] = true
	}
	c.colSet = make(map[string]bool, len(stringCols))
	for _, k := range stringCols {
		c.colSet[k] = true
	}
	return c, nil
}

func (c Config) isPK(field string) bool        { return c.pkSet[field] }
func (c Config) isStringCol(field string) bool { return c.colSet[field] }
