package storage

import (
	"os"
	"sync"

	v1 "github.com/mrshabel/chronodb/api/v1"
	"go.uber.org/zap"
)

// Database owns a directory of named series.
type Database struct {
	mu     sync.RWMutex
	name   string
	dir    string
	log    *zap.Logger
	series map[string]*Series
}

func newDatabase(name, dir string, log *zap.Logger) (*Database, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db := &Database{name: name, dir: dir, log: log, series: map[string]*Series{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := NewSeries(e.Name(), seriesDir(dir, "", e.Name()), Options{}, log)
		if err != nil {
			return nil, err
		}
		db.series[e.Name()] = s
	}
	return db, nil
}

// Name returns the database's name.
func (d *Database) Name() string { return d.name }

// CreateSeries creates a new series under this database, or returns the
// existing one if it already exists.
func (d *Database) CreateSeries(name string, opts Options) (*Series, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.series[name]; ok {
		return s, nil
	}
	s, err := NewSeries(name, seriesDir(d.dir, "", name), opts, d.log)
	if err != nil {
		return nil, err
	}
	d.series[name] = s
	return s, nil
}

// Series returns a named series, or ErrSeriesNotFound.
func (d *Database) Series(name string) (*Series, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.series[name]
	if !ok {
		return nil, v1.ErrSeriesNotFound{Database: d.name, Series: name}
	}
	return s, nil
}

// DeleteSeries closes and permanently removes a series, including its
// on-disk chunks, WAL segments, and partitions.
func (d *Database) DeleteSeries(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.series[name]
	if !ok {
		return v1.ErrSeriesNotFound{Database: d.name, Series: name}
	}
	if err := s.Close(); err != nil {
		return err
	}
	delete(d.series, name)
	return os.RemoveAll(seriesDir(d.dir, "", name))
}

// SeriesNames lists every series in this database.
func (d *Database) SeriesNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.series))
	for n := range d.series {
		names = append(names, n)
	}
	return names
}

func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for _, s := range d.series {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DBContext tracks every database known to a node plus which one is
// currently active for an unqualified series reference (the USE statement).
type DBContext struct {
	mu        sync.RWMutex
	rootDir   string
	log       *zap.Logger
	databases map[string]*Database
	active    string
}

// NewDBContext discovers existing databases under rootDir.
func NewDBContext(rootDir string, log *zap.Logger) (*DBContext, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, err
	}
	ctx := &DBContext{rootDir: rootDir, log: log, databases: map[string]*Database{}}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		db, err := newDatabase(e.Name(), seriesDir(rootDir, e.Name(), ""), log)
		if err != nil {
			return nil, err
		}
		ctx.databases[e.Name()] = db
	}
	return ctx, nil
}

// CreateDatabase creates a new database, or returns the existing one.
func (c *DBContext) CreateDatabase(name string) (*Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.databases[name]; ok {
		return db, nil
	}
	db, err := newDatabase(name, seriesDir(c.rootDir, name, ""), c.log)
	if err != nil {
		return nil, err
	}
	c.databases[name] = db
	return db, nil
}

// Use selects name as the active database for subsequent unqualified
// operations.
func (c *DBContext) Use(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.databases[name]; !ok {
		return v1.ErrDatabaseNotFound{Database: name}
	}
	c.active = name
	return nil
}

// Active returns the currently active database, or ErrNoActiveDatabase.
func (c *DBContext) Active() (*Database, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.active == "" {
		return nil, v1.ErrNoActiveDatabase{}
	}
	db, ok := c.databases[c.active]
	if !ok {
		return nil, v1.ErrDatabaseNotFound{Database: c.active}
	}
	return db, nil
}

// Database returns a named database, or ErrDatabaseNotFound.
func (c *DBContext) Database(name string) (*Database, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	db, ok := c.databases[name]
	if !ok {
		return nil, v1.ErrDatabaseNotFound{Database: name}
	}
	return db, nil
}

// DatabaseNames lists every known database.
func (c *DBContext) DatabaseNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.databases))
	for n := range c.databases {
		names = append(names, n)
	}
	return names
}

func (c *DBContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, db := range c.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
