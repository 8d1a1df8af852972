package persist

import (
	"strings"

	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/kit/platform/errors"
)

const (
	tablePlaceholder = "{table}"
	statPlaceholder  = "{stat}"
)

// DefaultFilePattern is the file name pattern used under a data directory.
const DefaultFilePattern = "{table}_{stat}.bin"

// Template derives the file path of a (table, stat) series.
type Template struct {
	raw string
}

// ParseTemplate validates a path template. Both {table} and {stat} must appear
// so that every series gets its own file.
func ParseTemplate(s string) (Template, error) {
	const op = "persist.ParseTemplate"
	if !strings.Contains(s, tablePlaceholder) {
		return Template{}, errors.Errorf(errors.EInvalid, op, "path template %q has no %s placeholder", s, tablePlaceholder)
	}
	if !strings.Contains(s, statPlaceholder) {
		return Template{}, errors.Errorf(errors.EInvalid, op, "path template %q has no %s placeholder", s, statPlaceholder)
	}
	return Template{raw: s}, nil
}

// Path returns the file path for table and stat. Both must be valid
// identifiers so a name can never escape the templated directory.
func (t Template) Path(table, stat string) (string, error) {
	const op = "persist.Path"
	if !ranking.ValidIdentifier(table) {
		return "", errors.Errorf(errors.EInvalid, op, "invalid table name %q", table)
	}
	if !ranking.ValidIdentifier(stat) {
		return "", errors.Errorf(errors.EInvalid, op, "invalid stat name %q", stat)
	}
	r := strings.NewReplacer(tablePlaceholder, table, statPlaceholder, stat)
	return r.Replace(t.raw), nil
}

func (t Template) String() string { return t.raw }
