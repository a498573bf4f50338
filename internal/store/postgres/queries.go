package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/savedsearch/internal/idgen"
	"github.com/alfredjeanlab/savedsearch/internal/model"
)

// searchColumns is the column list used for SELECT statements on the saved_searches table.
const searchColumns = `search_id, library_id, key, search_name, version,
	date_added, date_modified, created_by_user_id, last_modified_by_user_id`

// sortColumns maps the accepted sort values to SQL expressions.
// searchKeyList is handled separately because it binds an argument.
var sortColumns = map[string]string{
	model.SortTitle:        "search_name",
	model.SortDateAdded:    "date_added",
	model.SortDateModified: "date_modified",
}

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryBuilder collects WHERE clauses, ORDER BY terms and positional
// arguments for a listing, then joins them into statements. Filter arguments
// always precede ordering and pagination arguments, so the count statement
// can reuse the leading slice of args.
type queryBuilder struct {
	where     []string
	orderBy   []string
	args      []any
	whereArgs int
	limit     string
}

func (q *queryBuilder) nextArg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *queryBuilder) inList(column string, n int, value func(i int) any) {
	placeholders := make([]string, n)
	for i := range n {
		placeholders[i] = q.nextArg(value(i))
	}
	q.where = append(q.where, column+" IN ("+strings.Join(placeholders, ", ")+")")
}

func (q *queryBuilder) whereSQL() string {
	return " WHERE " + strings.Join(q.where, " AND ")
}

// selectSQL returns the paginated data statement.
func (q *queryBuilder) selectSQL(columns string) string {
	return "SELECT " + columns + " FROM saved_searches" + q.whereSQL() +
		" ORDER BY " + strings.Join(q.orderBy, ", ") + q.limit
}

// countSQL returns the statement counting every matching row, ignoring pagination.
func (q *queryBuilder) countSQL() (string, []any) {
	return "SELECT COUNT(*) FROM saved_searches" + q.whereSQL(), q.args[:q.whereArgs]
}

// buildSearchQuery translates listing parameters into a queryBuilder.
// Empty id and key lists add no constraint.
func buildSearchQuery(libraryID int64, p model.SearchParams) *queryBuilder {
	q := &queryBuilder{}
	q.where = append(q.where, "library_id = "+q.nextArg(libraryID))

	if p.Since > 0 {
		q.where = append(q.where, "version > "+q.nextArg(p.Since))
	}
	if p.SinceTime > 0 {
		q.where = append(q.where, "server_date_modified >= to_timestamp("+q.nextArg(p.SinceTime)+")")
	}
	if len(p.SearchIDs) > 0 {
		q.inList("search_id", len(p.SearchIDs), func(i int) any { return p.SearchIDs[i] })
	}
	if len(p.SearchKeys) > 0 {
		q.inList("key", len(p.SearchKeys), func(i int) any { return p.SearchKeys[i] })
	}
	q.whereArgs = len(q.args)

	dir := "ASC"
	if p.Direction != "" {
		dir = strings.ToUpper(p.Direction)
	}
	switch {
	case p.Sort == model.SortSearchKeyList && len(p.SearchKeys) > 0:
		q.orderBy = append(q.orderBy,
			fmt.Sprintf("array_position(%s::text[], key::text) %s", q.nextArg(pq.Array(p.SearchKeys)), dir))
	case sortColumns[p.Sort] != "":
		q.orderBy = append(q.orderBy, sortColumns[p.Sort]+" "+dir)
	}
	q.orderBy = append(q.orderBy, "version "+dir, "search_id "+dir)

	if p.Limit > 0 {
		q.limit = " LIMIT " + q.nextArg(p.Limit) + " OFFSET " + q.nextArg(p.Start)
	}
	return q
}

func queryListSearches(ctx context.Context, db executor, libraryID int64, p model.SearchParams) (*model.SearchResults, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	q := buildSearchQuery(libraryID, p)
	res := &model.SearchResults{Format: p.ResultFormat()}

	var err error
	switch res.Format {
	case model.FormatKeys:
		res.Keys, err = queryKeys(ctx, db, q)
	case model.FormatVersions:
		res.Versions, err = queryKeyVersions(ctx, db, q)
	default:
		res.Searches, err = querySearchesByID(ctx, db, libraryID, q)
	}
	if err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}

	countSQL, countArgs := q.countSQL()
	if err := db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("count searches: %w", err)
	}
	return res, nil
}

func queryKeys(ctx context.Context, db executor, q *queryBuilder) ([]string, error) {
	rows, err := db.QueryContext(ctx, q.selectSQL("key"), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func queryKeyVersions(ctx context.Context, db executor, q *queryBuilder) (*model.KeyVersions, error) {
	rows, err := db.QueryContext(ctx, q.selectSQL("key, version"), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kv := model.NewKeyVersions()
	for rows.Next() {
		var (
			k string
			v int64
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		kv.Set(k, v)
	}
	return kv, rows.Err()
}

// querySearchesByID selects matching ids, then loads each search by id in
// order. The id rows are drained first so lookups can reuse a transaction.
func querySearchesByID(ctx context.Context, db executor, libraryID int64, q *queryBuilder) ([]*model.SavedSearch, error) {
	rows, err := db.QueryContext(ctx, q.selectSQL("search_id"), q.args...)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	searches := make([]*model.SavedSearch, 0, len(ids))
	for _, id := range ids {
		s, err := queryGetSearch(ctx, db, libraryID, id)
		if err != nil {
			return nil, fmt.Errorf("get search %d: %w", id, err)
		}
		searches = append(searches, s)
	}
	return searches, nil
}

func queryGetSearch(ctx context.Context, db executor, libraryID, searchID int64) (*model.SavedSearch, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+searchColumns+` FROM saved_searches WHERE library_id = $1 AND search_id = $2`,
		libraryID, searchID)
	return loadSearch(ctx, db, row)
}

func queryGetSearchByKey(ctx context.Context, db executor, libraryID int64, key string) (*model.SavedSearch, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+searchColumns+` FROM saved_searches WHERE library_id = $1 AND key = $2`,
		libraryID, key)
	return loadSearch(ctx, db, row)
}

func loadSearch(ctx context.Context, db executor, row scannable) (*model.SavedSearch, error) {
	s, err := scanSearch(row)
	if err != nil {
		return nil, err
	}
	conds, err := queryGetConditions(ctx, db, s.ID)
	if err != nil {
		return nil, err
	}
	s.Conditions = conds
	return s, nil
}

func queryGetConditions(ctx context.Context, db executor, searchID int64) ([]model.Condition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT condition, mode, operator, value FROM saved_search_conditions
		WHERE search_id = $1 ORDER BY condition_index`, searchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConditions(rows)
}

// queryBumpLibraryVersion increments the library version, creating the
// library row on first write, and returns the new version.
func queryBumpLibraryVersion(ctx context.Context, db executor, libraryID int64) (int64, error) {
	var version int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO libraries (library_id, version) VALUES ($1, 1)
		ON CONFLICT (library_id) DO UPDATE SET version = libraries.version + 1
		RETURNING version`, libraryID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("bump library version: %w", err)
	}
	return version, nil
}

func queryLibraryVersion(ctx context.Context, db executor, libraryID int64) (int64, error) {
	var version int64
	err := db.QueryRowContext(ctx, `SELECT version FROM libraries WHERE library_id = $1`, libraryID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// querySaveSearch writes s at a freshly bumped library version. It must run
// inside a transaction. An existing search with no changes is not written.
func querySaveSearch(ctx context.Context, db executor, s *model.SavedSearch, userID int64) (bool, error) {
	if !s.HasChanged() {
		return false, nil
	}

	version, err := queryBumpLibraryVersion(ctx, db, s.LibraryID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	s.DateModified = now
	isNew := !s.Exists()

	if isNew {
		if s.Key == "" {
			if s.Key, err = idgen.GenerateKey(); err != nil {
				return false, err
			}
		}
		if s.DateAdded.IsZero() {
			s.DateAdded = now
		}
		err = db.QueryRowContext(ctx, `
			INSERT INTO saved_searches (
				library_id, key, search_name, date_added, date_modified,
				server_date_modified, version, created_by_user_id, last_modified_by_user_id
			) VALUES ($1, $2, $3, $4, $5, NOW(), $6, $7, $7)
			RETURNING search_id`,
			s.LibraryID, s.Key, s.Name, s.DateAdded, s.DateModified, version, nullUserID(userID),
		).Scan(&s.ID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
				return false, model.Conflict("Search %s already exists", s.Key)
			}
			return false, fmt.Errorf("insert search: %w", err)
		}
		s.CreatedByUserID = userID
	} else {
		res, err := db.ExecContext(ctx, `
			UPDATE saved_searches SET
				search_name = $3,
				date_modified = $4,
				server_date_modified = NOW(),
				version = $5,
				last_modified_by_user_id = $6
			WHERE library_id = $1 AND search_id = $2`,
			s.LibraryID, s.ID, s.Name, s.DateModified, version, nullUserID(userID),
		)
		if err != nil {
			return false, fmt.Errorf("update search: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return false, sql.ErrNoRows
		}
	}
	s.LastModifiedByUserID = userID

	if isNew || s.Changed("conditions") {
		if err := queryReplaceConditions(ctx, db, s.ID, s.Conditions); err != nil {
			return false, err
		}
	}

	s.Version = version
	s.ClearChanged()
	return true, nil
}

// queryReplaceConditions swaps the whole condition list of a search.
func queryReplaceConditions(ctx context.Context, db executor, searchID int64, conds []model.Condition) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM saved_search_conditions WHERE search_id = $1`, searchID); err != nil {
		return fmt.Errorf("clear conditions: %w", err)
	}
	for i, c := range conds {
		_, err := db.ExecContext(ctx, `
			INSERT INTO saved_search_conditions (search_id, condition_index, condition, mode, operator, value)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			searchID, i, c.Condition, c.Mode, c.Operator, c.Value,
		)
		if err != nil {
			return fmt.Errorf("insert condition %d: %w", i, err)
		}
	}
	return nil
}

// queryDeleteSearch removes a search and its conditions and bumps the
// library version. It must run inside a transaction.
func queryDeleteSearch(ctx context.Context, db executor, libraryID int64, key string) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM saved_searches WHERE library_id = $1 AND key = $2`, libraryID, key)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, sql.ErrNoRows
	}
	return queryBumpLibraryVersion(ctx, db, libraryID)
}
