package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/provtrace/internal/canon"
	"github.com/roach88/provtrace/internal/prov"
)

var (
	// ErrGraphNotFound is returned when no archived graph matches.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrAmbiguousDigest is returned when a digest prefix matches more than
	// one graph.
	ErrAmbiguousDigest = errors.New("ambiguous digest prefix")

	// ErrInvalidDigest is returned for a digest prefix that is not hex.
	ErrInvalidDigest = errors.New("invalid digest")
)

// Meta describes where an archived graph came from.
type Meta struct {
	TracePath string
	Command   string
	Stats     map[string]int
}

// Graph is one archived document. Document holds the canonical JSON; it
// is empty in listings.
type Graph struct {
	Digest    string         `json:"digest"`
	Seq       int64          `json:"seq"`
	TracePath string         `json:"trace_path"`
	Command   string         `json:"command,omitempty"`
	Counts    prov.Counts    `json:"counts"`
	Stats     map[string]int `json:"stats,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Document  []byte         `json:"-"`
}

// SaveGraph archives doc. Returns the stored record and whether it was
// newly inserted; an identical document already in the archive is
// returned unchanged with inserted=false.
func (s *Store) SaveGraph(ctx context.Context, doc *prov.Document, meta Meta) (g Graph, inserted bool, err error) {
	data, err := doc.MarshalCanonical()
	if err != nil {
		return Graph{}, false, fmt.Errorf("save graph: %w", err)
	}
	digest := canon.DigestBytes(canon.DomainGraph, data)
	counts := doc.Counts()
	created := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Graph{}, false, fmt.Errorf("save graph: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO graphs
		(digest, seq, trace_path, command, document, activities, entities, used, generated, informed, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM graphs), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO NOTHING
	`,
		digest,
		meta.TracePath,
		meta.Command,
		string(data),
		counts.Activities,
		counts.Entities,
		counts.Used,
		counts.Generated,
		counts.Informed,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Graph{}, false, fmt.Errorf("save graph: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return Graph{}, false, fmt.Errorf("save graph: rows affected: %w", err)
	}
	inserted = rows > 0

	if inserted {
		names := make([]string, 0, len(meta.Stats))
		for name := range meta.Stats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO graph_stats (digest, name, value) VALUES (?, ?, ?)
				ON CONFLICT(digest, name) DO NOTHING
			`, digest, name, meta.Stats[name]); err != nil {
				return Graph{}, false, fmt.Errorf("save graph stats: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Graph{}, false, fmt.Errorf("save graph: commit: %w", err)
	}

	g, err = s.GetGraph(ctx, digest)
	if err != nil {
		return Graph{}, false, err
	}
	return g, inserted, nil
}

// GetGraph returns the graph with the exact digest, document included.
// Returns ErrGraphNotFound if it is not archived.
func (s *Store) GetGraph(ctx context.Context, digest string) (Graph, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT digest, seq, trace_path, command, activities, entities, used, generated, informed, created_at, document
		FROM graphs
		WHERE digest = ?
	`, digest)

	g, err := scanGraph(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Graph{}, fmt.Errorf("%w: %s", ErrGraphNotFound, digest)
	}
	if err != nil {
		return Graph{}, err
	}

	stats, err := s.readStats(ctx, digest)
	if err != nil {
		return Graph{}, err
	}
	g.Stats = stats
	return g, nil
}

// ListGraphs returns every archived graph without documents, ordered by
// seq ASC, digest ASC.
func (s *Store) ListGraphs(ctx context.Context) ([]Graph, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT digest, seq, trace_path, command, activities, entities, used, generated, informed, created_at
		FROM graphs
		ORDER BY seq ASC, digest COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query graphs: %w", err)
	}
	defer rows.Close()

	var graphs []Graph
	for rows.Next() {
		g, err := scanGraph(rows, false)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graphs: %w", err)
	}

	// Return empty slice instead of nil
	if graphs == nil {
		graphs = []Graph{}
	}
	return graphs, nil
}

// DeleteGraph removes the graph with the exact digest and its stats.
// Returns ErrGraphNotFound if it is not archived.
func (s *Store) DeleteGraph(ctx context.Context, digest string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE digest = ?`, digest)
	if err != nil {
		return fmt.Errorf("delete graph: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete graph: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, digest)
	}
	return nil
}

// ResolveDigest expands a unique hex prefix to a full digest.
func (s *Store) ResolveDigest(ctx context.Context, prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || strings.Trim(prefix, "0123456789abcdef") != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, prefix)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT digest FROM graphs
		WHERE substr(digest, 1, ?) = ?
		ORDER BY digest COLLATE BINARY ASC
		LIMIT 2
	`, len(prefix), prefix)
	if err != nil {
		return "", fmt.Errorf("resolve digest: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return "", fmt.Errorf("resolve digest: %w", err)
		}
		matches = append(matches, d)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve digest: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrGraphNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousDigest, prefix)
	}
}

func (s *Store) readStats(ctx context.Context, digest string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value FROM graph_stats
		WHERE digest = ?
		ORDER BY name COLLATE BINARY ASC
	`, digest)
	if err != nil {
		return nil, fmt.Errorf("query graph stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var name string
		var value int
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan graph stats: %w", err)
		}
		stats[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graph stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGraph(row rowScanner, withDocument bool) (Graph, error) {
	var (
		g        Graph
		created  string
		document string
	)
	dest := []any{
		&g.Digest, &g.Seq, &g.TracePath, &g.Command,
		&g.Counts.Activities, &g.Counts.Entities,
		&g.Counts.Used, &g.Counts.Generated, &g.Counts.Informed,
		&created,
	}
	if withDocument {
		dest = append(dest, &document)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Graph{}, err
		}
		return Graph{}, fmt.Errorf("scan graph: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Graph{}, fmt.Errorf("scan graph: created_at %q: %w", created, err)
	}
	g.CreatedAt = t
	if withDocument {
		g.Document = []byte(document)
	}
	return g, nil
}
