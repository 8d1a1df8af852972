package launcher

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/cheeseformice/ranking"
)

type tablesConfig struct {
	Tables []ranking.Table `toml:"table"`
}

// loadTables reads the indexed tables from a TOML file of [[table]] entries.
// An empty path selects the default tables.
func loadTables(path string) ([]ranking.Table, error) {
	if path == "" {
		return ranking.DefaultTables(), nil
	}

	var c tablesConfig
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("reading tables config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("reading tables config %s: unknown keys %v", path, undecoded)
	}
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("tables config %s has no [[table]] entries", path)
	}
	for i, t := range c.Tables {
		if len(t.Stats) == 0 {
			c.Tables[i].Stats = append([]string(nil), ranking.DefaultStats...)
		}
	}
	return c.Tables, nil
}
