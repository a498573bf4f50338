package postgres

import (
	"database/sql"

	"github.com/alfredjeanlab/savedsearch/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanSearch scans a single row into a model.SavedSearch.
// The row must contain columns in the order defined by searchColumns.
func scanSearch(row scannable) (*model.SavedSearch, error) {
	var s model.SavedSearch
	var createdBy, modifiedBy sql.NullInt64

	err := row.Scan(
		&s.ID,
		&s.LibraryID,
		&s.Key,
		&s.Name,
		&s.Version,
		&s.DateAdded,
		&s.DateModified,
		&createdBy,
		&modifiedBy,
	)
	if err != nil {
		return nil, err
	}

	s.CreatedByUserID = createdBy.Int64
	s.LastModifiedByUserID = modifiedBy.Int64
	s.DateAdded = s.DateAdded.UTC()
	s.DateModified = s.DateModified.UTC()
	return &s, nil
}

// scanConditions reads condition rows in the order the query returns them.
func scanConditions(rows *sql.Rows) ([]model.Condition, error) {
	var conds []model.Condition
	for rows.Next() {
		var c model.Condition
		if err := rows.Scan(&c.Condition, &c.Mode, &c.Operator, &c.Value); err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, rows.Err()
}

// nullUserID maps the zero user id to SQL NULL.
func nullUserID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
