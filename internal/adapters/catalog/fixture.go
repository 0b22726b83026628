package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/songrank/internal/domain/model"
	"github.com/okian/songrank/pkg/logger"
)

// Fixture is the YAML layout used to seed a catalog.
//
//	countries:
//	  - {code: SE, name: Sweden, group: nordic}
//	editions:
//	  - year: 2023
//	    host: GB
//	    city: Liverpool
//	    entries:
//	      - {country: SE, title: Tattoo, artist: Loreen}
//	    shows:
//	      - {type: 1, running_order: [NO, MT, SE]}
type Fixture struct {
	Countries []FixtureCountry `koanf:"countries"`
	Editions  []FixtureEdition `koanf:"editions"`
}

// FixtureCountry is one participating country.
type FixtureCountry struct {
	Code  string `koanf:"code"`
	Name  string `koanf:"name"`
	Group string `koanf:"group"`
}

// FixtureEdition is one year of the contest.
type FixtureEdition struct {
	Year    int            `koanf:"year"`
	Host    string         `koanf:"host"`
	City    string         `koanf:"city"`
	Entries []FixtureEntry `koanf:"entries"`
	Shows   []FixtureShow  `koanf:"shows"`
}

// FixtureEntry is a song. ID defaults to "<year>-<country>".
type FixtureEntry struct {
	ID      string `koanf:"id"`
	Country string `koanf:"country"`
	Title   string `koanf:"title"`
	Artist  string `koanf:"artist"`
}

// FixtureShow lists performing countries in running order. Countries in
// Voting only vote in the show (running order 0).
type FixtureShow struct {
	Type         int      `koanf:"type"`
	RunningOrder []string `koanf:"running_order"`
	Voting       []string `koanf:"voting"`
}

// LoadFixture parses a YAML fixture file.
func LoadFixture(path string) (Fixture, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Fixture{}, fmt.Errorf("load fixture %s: %w", path, err)
	}
	var f Fixture
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

// Validate checks references inside the fixture.
func (f Fixture) Validate() error {
	known := make(map[string]bool, len(f.Countries))
	for _, c := range f.Countries {
		if c.Code == "" {
			return fmt.Errorf("%w: country without code", ErrFixture)
		}
		known[strings.ToUpper(c.Code)] = true
	}
	for _, ed := range f.Editions {
		if ed.Year <= 0 {
			return fmt.Errorf("%w: edition without year", ErrFixture)
		}
		for _, e := range ed.Entries {
			if !known[strings.ToUpper(e.Country)] {
				return fmt.Errorf("%w: %d entry from unknown country %q", ErrFixture, ed.Year, e.Country)
			}
		}
		for _, sh := range ed.Shows {
			if !model.ShowMode(sh.Type).Valid() || model.ShowMode(sh.Type) == model.ModeAll {
				return fmt.Errorf("%w: %d has show type %d", ErrFixture, ed.Year, sh.Type)
			}
			for _, code := range append(append([]string{}, sh.RunningOrder...), sh.Voting...) {
				if !known[strings.ToUpper(code)] {
					return fmt.Errorf("%w: %d show %d lists unknown country %q", ErrFixture, ed.Year, sh.Type, code)
				}
			}
		}
	}
	return nil
}

// Seed upserts the fixture in one transaction.
func (s *Store) Seed(ctx context.Context, f Fixture) error {
	if err := f.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entries := 0
	for _, c := range f.Countries {
		if err := s.exec(ctx, tx, `INSERT INTO country (code, name, grp) VALUES (?, ?, ?)
			ON CONFLICT (code) DO UPDATE SET name = excluded.name, grp = excluded.grp`,
			strings.ToUpper(c.Code), c.Name, c.Group); err != nil {
			return err
		}
	}
	for _, ed := range f.Editions {
		if err := s.exec(ctx, tx, `INSERT INTO edition (year, host, city) VALUES (?, ?, ?)
			ON CONFLICT (year) DO UPDATE SET host = excluded.host, city = excluded.city`,
			ed.Year, strings.ToUpper(ed.Host), ed.City); err != nil {
			return err
		}
		for _, e := range ed.Entries {
			code := strings.ToUpper(e.Country)
			id := e.ID
			if id == "" {
				id = fmt.Sprintf("%d-%s", ed.Year, code)
			}
			if err := s.exec(ctx, tx, `INSERT INTO entry (id, title, artist, country, edition) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET title = excluded.title, artist = excluded.artist`,
				id, e.Title, e.Artist, code, ed.Year); err != nil {
				return err
			}
			entries++
		}
		for _, sh := range ed.Shows {
			sid := showID(ed.Year, sh.Type)
			if err := s.exec(ctx, tx, `INSERT INTO contest_show (id, edition, show_type) VALUES (?, ?, ?)
				ON CONFLICT (id) DO NOTHING`, sid, ed.Year, sh.Type); err != nil {
				return err
			}
			if err := s.exec(ctx, tx, `DELETE FROM performance WHERE show_id = ?`, sid); err != nil {
				return err
			}
			for i, code := range sh.RunningOrder {
				if err := s.insertPerformance(ctx, tx, sid, code, i+1); err != nil {
					return err
				}
			}
			for _, code := range sh.Voting {
				if err := s.insertPerformance(ctx, tx, sid, code, 0); err != nil {
					return err
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	s.logger.Info(ctx, "catalog seeded",
		logger.Int("countries", len(f.Countries)),
		logger.Int("editions", len(f.Editions)),
		logger.Int("entries", entries))
	return nil
}

func (s *Store) insertPerformance(ctx context.Context, tx *sql.Tx, sid int, code string, order int) error {
	return s.exec(ctx, tx, `INSERT INTO performance (show_id, country, running_order) VALUES (?, ?, ?)
		ON CONFLICT (show_id, country) DO UPDATE SET running_order = excluded.running_order`,
		sid, strings.ToUpper(code), order)
}

func (s *Store) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
