package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/kit/platform/errors"
)

// ParseQualification reads `field = minimum` lines. Blank lines, comments
// starting with # or ; and [section] headers are ignored. `field: minimum`
// is accepted as well.
func ParseQualification(r io.Reader) (ranking.Qualification, error) {
	const op = "source.ParseQualification"

	var q ranking.Qualification
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' || line[0] == '[' {
			continue
		}

		i := strings.IndexAny(line, "=:")
		if i < 0 {
			return nil, errors.Errorf(errors.EInvalid, op, "line %d: expected field = minimum", n)
		}
		field := strings.TrimSpace(line[:i])
		if !ranking.ValidIdentifier(field) {
			return nil, errors.Errorf(errors.EInvalid, op, "line %d: invalid field %q", n, field)
		}
		min, err := strconv.ParseInt(strings.TrimSpace(line[i+1:]), 10, 64)
		if err != nil {
			return nil, errors.Errorf(errors.EInvalid, op, "line %d: invalid minimum for %s", n, field)
		}
		q = append(q, ranking.Condition{Field: field, Minimum: min})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.EInvalid, op, "read qualification")
	}
	return q, nil
}

// LoadQualification parses the qualification file at path.
func LoadQualification(path string) (ranking.Qualification, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.EInvalid, "source.LoadQualification", fmt.Sprintf("open %s", path))
	}
	defer f.Close()
	return ParseQualification(f)
}
