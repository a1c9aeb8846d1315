package export

import (
	"fmt"
	"strings"

	"github.com/user/phaseseg/internal/store"
	"github.com/user/phaseseg/internal/types"
)

// SQLitePrefix marks an output location as a SQLite database path.
const SQLitePrefix = "sqlite:"

// OpenSQLite opens the SQLite store named by "sqlite:<path>" as a sink.
func OpenSQLite(location string) (types.ResultSink, error) {
	path := strings.TrimPrefix(location, SQLitePrefix)
	if path == "" {
		return nil, fmt.Errorf("sqlite output needs a path")
	}
	s, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return s, nil
}
