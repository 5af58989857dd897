package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
)

// CassandraConfig locates the tweets table.
type CassandraConfig struct {
	Hosts    []string
	Port     int
	Keyspace string
	Table    string
	// Timeout bounds connection setup and each statement.
	Timeout time.Duration
}

// Cassandra opens one gocql session per refresh cycle.
type Cassandra struct {
	cfg CassandraConfig
	now func() time.Time
}

// NewCassandra returns a connector for cfg.
func NewCassandra(cfg CassandraConfig) *Cassandra {
	if cfg.Table == "" {
		cfg.Table = "tweets"
	}
	return &Cassandra{cfg: cfg, now: time.Now}
}

// Open implements Connector.
func (c *Cassandra) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	cluster := gocql.NewCluster(c.cfg.Hosts...)
	cluster.Port = c.cfg.Port
	cluster.Keyspace = c.cfg.Keyspace
	cluster.Consistency = gocql.One
	if c.cfg.Timeout > 0 {
		cluster.Timeout = c.cfg.Timeout
		cluster.ConnectTimeout = c.cfg.Timeout
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%d/%s: %w", ErrConnect, firstHost(c.cfg.Hosts), c.cfg.Port, c.cfg.Keyspace, err)
	}
	return &cassandraSession{session: session, table: c.cfg.Table, now: c.now}, nil
}

func firstHost(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	return hosts[0]
}

type cassandraSession struct {
	session *gocql.Session
	table   string
	now     func() time.Time
}

// Query renders q and maps the aliased columns back to positions.
func (s *cassandraSession) Query(ctx context.Context, q catalogue.Query) ([]Row, error) {
	stmt, args := q.CQL(s.table, s.now())
	maps, err := s.session.Query(stmt, args...).WithContext(ctx).Iter().SliceMap()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrQuery, stmt, err)
	}

	return mapRows(q, maps), nil
}

// mapRows turns the column maps of a result into rows ordered like
// q.Select, reading each aggregate from its alias.
func mapRows(q catalogue.Query, maps []map[string]interface{}) []Row {
	rows := make([]Row, 0, len(maps))
	for _, m := range maps {
		r := Row{Values: make([]interface{}, len(q.Select))}
		for i := range q.Select {
			r.Values[i] = m[catalogue.ColumnAlias(i)]
		}
		if q.Grouped() {
			r.Group = m[q.GroupBy.CQL()]
		}
		rows = append(rows, r)
	}
	if !q.Grouped() && len(rows) == 0 {
		// an aggregate without matches still yields one row
		rows = append(rows, Row{Values: make([]interface{}, len(q.Select))})
	}
	return rows
}

// Close implements Session.
func (s *cassandraSession) Close() error {
	s.session.Close()
	return nil
}
