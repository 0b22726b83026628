// Package catalog is the SQL-backed source of contest entries and of the
// semi-final line-ups used for qualification.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"
	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/internal/domain/qualify"
	"github.com/okian/songrank/pkg/logger"
	"github.com/okian/songrank/pkg/metrics"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store reads entries from a SQL database.
type Store struct {
	db       *sql.DB
	postgres bool
	logger   logger.Logger
}

// Open connects to the catalog database and creates the schema.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s catalog: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and avoids
		// SQLITE_BUSY on writes.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s catalog: %w", driver, err)
	}
	s := New(db, driver, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool. driver selects the placeholder style.
func New(db *sql.DB, driver string, opts ...Option) *Store {
	s := &Store{
		db:       db,
		postgres: driver == DriverPostgres,
		logger:   logger.Get().Named("catalog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const entryColumns = `e.id, e.title, e.artist, e.country, e.edition`

// Entries returns the items a query selects, ordered by edition then id.
//
//   - Edition with a show type: entries that performed in that show
//     (running_order > 0; non-positive means voting only).
//   - Edition alone: every entry of that edition.
//   - Year range: every entry in StartYear..EndYear, optionally narrowed to
//     one country or one country group.
func (s *Store) Entries(ctx context.Context, q model.Query) ([]model.Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + entryColumns + ` FROM entry e JOIN country c ON c.code = e.country`)
	if q.SingleEdition() && q.ShowType != model.ModeAll {
		sb.WriteString(` JOIN contest_show s ON s.edition = e.edition AND s.show_type = ?`)
		sb.WriteString(` JOIN performance p ON p.show_id = s.id AND p.country = e.country AND p.running_order > 0`)
		args = append(args, int(q.ShowType))
	}
	if q.SingleEdition() {
		sb.WriteString(` WHERE e.edition = ?`)
		args = append(args, q.Edition)
	} else {
		sb.WriteString(` WHERE e.edition BETWEEN ? AND ?`)
		args = append(args, q.StartYear, q.EndYear)
	}
	if code := strings.TrimSpace(q.Country); code != "" {
		sb.WriteString(` AND e.country = ?`)
		args = append(args, strings.ToUpper(code))
	}
	if group := strings.TrimSpace(q.Group); group != "" {
		sb.WriteString(` AND c.grp = ?`)
		args = append(args, group)
	}
	sb.WriteString(` ORDER BY e.edition, e.id`)

	items, err := s.queryItems(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	metrics.RecordCatalogQuery(float64(time.Since(start).Microseconds())/1000, len(items))
	if len(items) == 0 {
		return nil, ErrNoEntries
	}
	return items, nil
}

// BracketMembers returns, for both semi-finals of an edition, the entries
// that performed in them. Semi-finals without data are absent.
func (s *Store) BracketMembers(ctx context.Context, edition int) (qualify.Memberships, error) {
	query := `SELECT s.show_type, ` + entryColumns + `
		FROM performance p
		JOIN contest_show s ON s.id = p.show_id
		JOIN entry e ON e.country = p.country AND e.edition = s.edition
		WHERE s.edition = ? AND s.show_type IN (?, ?) AND p.running_order > 0
		ORDER BY s.show_type, p.running_order`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), edition, int(model.ModeSemiFinal1), int(model.ModeSemiFinal2))
	if err != nil {
		return nil, fmt.Errorf("query bracket members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := make(qualify.Memberships)
	for rows.Next() {
		var (
			showType int
			item     model.Item
		)
		if err := rows.Scan(&showType, &item.ID, &item.Title, &item.Artist, &item.Country, &item.Year); err != nil {
			return nil, fmt.Errorf("scan bracket member: %w", err)
		}
		bracket := model.BracketID(showType)
		members[bracket] = append(members[bracket], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bracket members: %w", err)
	}
	return members, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.Item
	for rows.Next() {
		var item model.Item
		if err := rows.Scan(&item.ID, &item.Title, &item.Artist, &item.Country, &item.Year); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return items, nil
}
