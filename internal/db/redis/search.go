package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/db"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain/search/filter"
)

// scoreField is the alias FT.SEARCH uses for the KNN distance.
const scoreField = "__vector_score"

// SearchKNN runs a filtered KNN query. Scores are converted from cosine
// distance to similarity in [0, 1].
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	switch {
	case q.IndexName == "":
		return nil, errors.New("knn: index name is required")
	case len(q.Vector) == 0:
		return nil, errors.New("knn: query vector is empty")
	case q.K <= 0:
		return nil, fmt.Errorf("knn: k must be positive, got %d", q.K)
	}

	args := []string{q.IndexName, knnQuery(q)}
	if n := len(q.ReturnFields); n > 0 {
		args = append(args, "RETURN", strconv.Itoa(n))
		args = append(args, q.ReturnFields...)
	}
	args = append(args,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
		"DIALECT", "2",
	)

	raw, err := s.ftSearch(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseKNNReply(raw)
}

// SearchCount counts indexed documents matching filters. Valkey rejects
// FT.SEARCH without KNN, so an unfiltered count there scans the prefix.
func (s *Store) SearchCount(ctx context.Context, index string, filters filter.Expression) (int, error) {
	query := buildFilter(filters)
	if query == "" && s.flavor == FlavorValkey {
		keys, err := s.Scan(ctx, indexToKeyPrefix(index)+"*")
		if err != nil {
			return 0, fmt.Errorf("count by scan: %w", err)
		}
		return len(keys), nil
	}
	if query == "" {
		query = "*"
	}

	raw, err := s.ftSearch(ctx, []string{index, query, "LIMIT", "0", "0", "DIALECT", "2"})
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("count reply: %w", err)
	}
	return int(total), nil
}

func (s *Store) ftSearch(ctx context.Context, args []string) ([]rueidis.RedisMessage, error) {
	raw, err := s.do(ctx, s.b().Arbitrary("FT.SEARCH").Args(args...).Build()).ToArray()
	switch {
	case err == nil:
		return raw, nil
	case isMissingIndex(err):
		return nil, db.ErrIndexNotFound
	}
	return nil, &db.Error{Op: db.OpSearch, Err: err}
}

func knnQuery(q *db.KNNQuery) string {
	pre := buildFilter(q.Filters)
	if pre == "" {
		pre = "*"
	} else {
		pre = "(" + pre + ")"
	}
	return fmt.Sprintf("%s=>[KNN %d @%s $BLOB]", pre, q.K, q.Field())
}

// indexToKeyPrefix maps "underfoot:semantic:idx" to "underfoot:semantic:".
func indexToKeyPrefix(index string) string {
	if base, ok := strings.CutSuffix(index, "idx"); ok && strings.HasSuffix(base, ":") {
		return base
	}
	return index + ":"
}

// parseKNNReply reads the RESP2 layout [total, key1, fields1, key2, fields2, ...].
func parseKNNReply(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("knn reply total: %w", err)
	}

	res := &db.SearchResult{Total: int(total)}
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		pairs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		entry := db.SearchEntry{Key: key, Fields: fieldMap(pairs)}
		if d, ok := entry.Fields[scoreField]; ok {
			if dist, err := strconv.ParseFloat(d, 64); err == nil {
				entry.Score = max(0, 1-dist)
			}
			delete(entry.Fields, scoreField)
		}
		res.Entries = append(res.Entries, entry)
	}
	return res, nil
}

func fieldMap(pairs []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, kerr := pairs[i].ToString()
		v, verr := pairs[i+1].ToString()
		if kerr == nil && verr == nil {
			m[k] = v
		}
	}
	return m
}

// buildFilter renders expr in the FT query syntax; conjuncts are
// space-separated.
func buildFilter(expr filter.Expression) string {
	var sb strings.Builder
	for _, c := range expr.Conditions() {
		clause := buildClause(c)
		if clause == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(clause)
	}
	return sb.String()
}

func buildClause(c filter.Condition) string {
	switch c.Kind() {
	case filter.KindTag:
		return "@" + c.Field() + ":{" + tagEscaper.Replace(c.TagValue()) + "}"
	case filter.KindRange:
		return "@" + c.Field() + ":" + numericInterval(c.Range())
	case filter.KindGeo:
		g := c.Area()
		return fmt.Sprintf("@%s:[%s %s %s %s]", c.Field(),
			formatNumber(g.Center.Lng), formatNumber(g.Center.Lat), formatNumber(g.Radius), g.Unit)
	}
	return ""
}

func numericInterval(r filter.Range) string {
	lo, hi := "-inf", "+inf"
	if r.Min != nil {
		lo = boundText(*r.Min)
	}
	if r.Max != nil {
		hi = boundText(*r.Max)
	}
	return "[" + lo + " " + hi + "]"
}

func boundText(b filter.Bound) string {
	if b.Exclusive {
		return "(" + formatNumber(b.Value)
	}
	return formatNumber(b.Value)
}

// formatNumber avoids exponent notation, which the query parser rejects.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// tagEscaper escapes the TAG query punctuation.
var tagEscaper = func() *strings.Replacer {
	const special = ",.<>{}\"':;!@#$%^&*()-+=~ "
	pairs := make([]string, 0, 2*len(special))
	for _, r := range special {
		pairs = append(pairs, string(r), `\`+string(r))
	}
	return strings.NewReplacer(pairs...)
}()

func vectorToBytes(v []float32) string {
	return string(db.EncodeVector(v))
}
