package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over stash_nodes using PostgreSQL full-text
// search. It is the fallback when Meilisearch is absent or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the daemon is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `l.kind = 'leaf' AND (
		to_tsvector('simple', l.title || ' ' || coalesce(l.url, '')) @@ plainto_tsquery('simple', $1)
		OR l.url ILIKE '%' || $1 || '%')`
	args := []any{q.Text}
	if q.FilterGroupID != "" {
		where += " AND l.parent_id = $2"
		args = append(args, q.FilterGroupID)
	}

	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf(`SELECT count(DISTINCT l.url) FROM stash_nodes l WHERE %s`, where)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT DISTINCT ON (l.url) l.url, l.title, coalesce(g.title, ''), coalesce(g.id, ''),
			ts_rank(to_tsvector('simple', l.title || ' ' || l.url), plainto_tsquery('simple', $1)) AS rank
		FROM stash_nodes l
		LEFT JOIN stash_nodes g ON g.id = l.parent_id
		WHERE %s
		ORDER BY l.url, l.created_at DESC`, where)
	rankedSQL := fmt.Sprintf(`SELECT url, title, grp, grp_id FROM (%s) AS hits(url, title, grp, grp_id, rank)
		ORDER BY rank DESC, url
		LIMIT %d OFFSET %d`, dataSQL, limit, offset)

	rows, err := p.db.QueryContext(ctx, rankedSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.URL, &r.Title, &r.Group, &r.GroupID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = EntryID(r.URL)
		results = append(results, r)
	}

	return results, total, rows.Err()
}
