// Package scoring ranks content-source results for a search: it scores each
// item, drops malformed ones, merges duplicates across sources and splits the
// ordered list into primary, nearby and discarded tiers.
package scoring

import (
	"math"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
)

// Relevance components.
const (
	termWeight        = 0.6
	phraseBonus       = 0.25
	keywordBonus      = 0.05
	keywordBonusLimit = 0.15
	minTermLength     = 3
)

// Signal calibration.
const (
	neutralSignal      = 0.5
	socialScoreCeiling = 100.0
	webSearchDepth     = 10.0
)

// UndergroundKeywords mark off-the-beaten-path content.
var UndergroundKeywords = []string{
	"underground", "hidden", "secret", "local", "offbeat", "alternative", "indie",
	"dive", "authentic", "quirky", "weird", "unique", "undiscovered", "locals only",
}

var sourceReliability = map[domain.Source]float64{
	domain.SourceSocial:    0.9,
	domain.SourceWebSearch: 0.8,
	domain.SourceEvents:    0.7,
}

// Weights of the score components. They are normalized to sum to 1.
type Weights struct {
	Relevance   float64
	Reliability float64
	Signals     float64
}

// DefaultWeights returns the standard component weights.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.55, Reliability: 0.25, Signals: 0.20}
}

// Config tunes the engine.
type Config struct {
	Weights        Weights
	PrimarySize    int
	NearbySize     int
	SourcePriority []domain.Source // dedup and sort tie-break, highest first
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Weights:        DefaultWeights(),
		PrimarySize:    5,
		NearbySize:     10,
		SourcePriority: domain.Sources(),
	}
}

// Result is the outcome of one ranking pass.
type Result struct {
	Ranked    []domain.ScoredResult // every surviving item, best first
	Primary   []domain.ScoredResult
	Nearby    []domain.ScoredResult
	Discarded []domain.ScoredResult
	Summary   domain.ScoringSummary
}

// Selected returns primary followed by nearby results.
func (r Result) Selected() []domain.ScoredResult {
	out := make([]domain.ScoredResult, 0, len(r.Primary)+len(r.Nearby))
	out = append(out, r.Primary...)
	return append(out, r.Nearby...)
}

// Engine is the scoring and ranking engine. It is stateless between calls.
type Engine struct {
	weights  Weights
	primary  int
	nearby   int
	priority map[domain.Source]int
	now      func() time.Time
	logger   *zap.Logger
}

// New creates an Engine. Zero or negative settings fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	w := cfg.Weights
	sum := w.Relevance + w.Reliability + w.Signals
	if w.Relevance < 0 || w.Reliability < 0 || w.Signals < 0 || sum <= 0 {
		w, sum = def.Weights, 1
	}
	w = Weights{Relevance: w.Relevance / sum, Reliability: w.Reliability / sum, Signals: w.Signals / sum}

	if cfg.PrimarySize <= 0 {
		cfg.PrimarySize = def.PrimarySize
	}
	if cfg.NearbySize < 0 {
		cfg.NearbySize = def.NearbySize
	}

	return &Engine{
		weights:  w,
		primary:  cfg.PrimarySize,
		nearby:   cfg.NearbySize,
		priority: priorityIndex(cfg.SourcePriority),
		now:      time.Now,
		logger:   logger,
	}
}

// priorityIndex ranks listed sources first, then any remaining known source in default order.
func priorityIndex(order []domain.Source) map[domain.Source]int {
	idx := make(map[domain.Source]int, len(domain.Sources()))
	for _, s := range order {
		if _, seen := idx[s]; !seen && s.Valid() {
			idx[s] = len(idx)
		}
	}
	for _, s := range domain.Sources() {
		if _, seen := idx[s]; !seen {
			idx[s] = len(idx)
		}
	}
	return idx
}

type candidate struct {
	domain.ScoredResult
	seq int
}

// Rank scores, deduplicates, sorts and categorizes items. Malformed items are
// dropped with a warning; Rank itself never fails.
func (e *Engine) Rank(sc domain.SearchContext, items []domain.RawResult) Result {
	now := e.now()
	summary := domain.ScoringSummary{
		TotalInput:  len(items),
		PerCategory: map[domain.Category]int{
			domain.CategoryPrimary:   0,
			domain.CategoryNearby:    0,
			domain.CategoryDiscarded: 0,
		},
		PerSource: map[domain.Source]int{},
	}

	kept := make([]candidate, 0, len(items))
	byKey := make(map[string]int, len(items))
	for i, item := range items {
		if reason := malformed(item); reason != "" {
			summary.Dropped++
			e.logger.Warn("Dropping malformed result",
				zap.String("reason", reason),
				zap.String("source", string(item.Source)),
				zap.String("name", item.Name),
			)
			continue
		}

		c := candidate{
			ScoredResult: domain.ScoredResult{RawResult: item, Score: e.score(sc.Intent(), item, now)},
			seq:          i,
		}
		key := DedupKey(item)
		if pos, dup := byKey[key]; dup {
			summary.Duplicates++
			if e.survives(c, kept[pos]) {
				kept[pos] = c
			}
			continue
		}
		byKey[key] = len(kept)
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool { return e.less(kept[i], kept[j]) })

	res := Result{Ranked: make([]domain.ScoredResult, 0, len(kept))}
	for i, c := range kept {
		r := c.ScoredResult
		switch {
		case i < e.primary:
			r.Category = domain.CategoryPrimary
			res.Primary = append(res.Primary, r)
		case i < e.primary+e.nearby:
			r.Category = domain.CategoryNearby
			res.Nearby = append(res.Nearby, r)
		default:
			r.Category = domain.CategoryDiscarded
			res.Discarded = append(res.Discarded, r)
		}
		res.Ranked = append(res.Ranked, r)
		summary.PerCategory[r.Category]++
		summary.PerSource[r.Source]++
	}
	summary.Ranked = len(res.Ranked)
	summary.Distribution = distribution(res.Ranked)
	res.Summary = summary
	return res
}

// survives reports whether challenger replaces incumbent as a duplicate's survivor.
func (e *Engine) survives(challenger, incumbent candidate) bool {
	if challenger.Score != incumbent.Score {
		return challenger.Score > incumbent.Score
	}
	if pc, pi := e.priority[challenger.Source], e.priority[incumbent.Source]; pc != pi {
		return pc < pi
	}
	return challenger.seq < incumbent.seq
}

// less orders by score desc, then source priority, then insertion.
func (e *Engine) less(a, b candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if pa, pb := e.priority[a.Source], e.priority[b.Source]; pa != pb {
		return pa < pb
	}
	return a.seq < b.seq
}

// Score returns the score of one item in [0,1].
func (e *Engine) Score(intent string, item domain.RawResult) float64 {
	return e.score(intent, item, e.now())
}

func (e *Engine) score(intent string, item domain.RawResult, now time.Time) float64 {
	s := e.weights.Relevance*Relevance(intent, item) +
		e.weights.Reliability*sourceReliability[item.Source] +
		e.weights.Signals*Signals(item, now)
	return domain.Clamp01(s)
}

// Relevance measures how well name and description match intent, in [0,1].
func Relevance(intent string, item domain.RawResult) float64 {
	text := normalizeText(item.Name + " " + item.Description)
	phrase := normalizeText(intent)

	var rel float64
	terms := intentTerms(phrase)
	if len(terms) > 0 {
		hits := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				hits++
			}
		}
		rel += termWeight * float64(hits) / float64(len(terms))
	}
	if phrase != "" && strings.Contains(text, phrase) {
		rel += phraseBonus
	}
	rel += math.Min(keywordBonus*float64(KeywordHits(text)), keywordBonusLimit)
	return domain.Clamp01(rel)
}

// KeywordHits counts distinct underground keywords present in normalized text.
func KeywordHits(text string) int {
	n := 0
	for _, k := range UndergroundKeywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

// Signals maps source-specific popularity or freshness onto [0,1].
// Items without a signal score neutral.
func Signals(item domain.RawResult, now time.Time) float64 {
	m := item.Metadata
	switch item.Source {
	case domain.SourceSocial:
		if m.Score > 0 {
			return math.Min(float64(m.Score)/socialScoreCeiling, 1)
		}
	case domain.SourceWebSearch:
		if m.Position > 0 {
			return math.Max(0, 1-float64(m.Position-1)/webSearchDepth)
		}
	case domain.SourceEvents:
		if m.StartsAt != nil {
			if m.StartsAt.After(now) {
				return 1
			}
			return 0
		}
	}
	return neutralSignal
}

func intentTerms(phrase string) []string {
	var terms []string
	seen := map[string]bool{}
	for _, t := range strings.Fields(phrase) {
		if utf8.RuneCountInString(t) >= minTermLength && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// normalizeText lowercases and collapses whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func malformed(item domain.RawResult) string {
	if strings.TrimSpace(item.Name) == "" {
		return "empty name"
	}
	if !item.Source.Valid() {
		return "unknown source"
	}
	if item.URL != "" {
		u, err := url.Parse(item.URL)
		if err != nil || u.Host == "" {
			return "unparsable url"
		}
	}
	return ""
}

// DedupKey identifies near-duplicates: same normalized name and same normalized URL.
func DedupKey(item domain.RawResult) string {
	return normalizeName(item.Name) + "|" + NormalizeURL(item.URL)
}

func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeURL reduces a URL to lowercase host without "www." plus path
// without trailing slash. Scheme, query and fragment are ignored.
func NormalizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host + strings.TrimRight(u.EscapedPath(), "/")
}

func distribution(rs []domain.ScoredResult) *domain.ScoreDistribution {
	if len(rs) == 0 {
		return nil
	}
	d := domain.ScoreDistribution{Min: rs[0].Score, Max: rs[0].Score}
	var sum float64
	for _, r := range rs {
		d.Min = math.Min(d.Min, r.Score)
		d.Max = math.Max(d.Max, r.Score)
		sum += r.Score
	}
	d.Mean = sum / float64(len(rs))
	return &d
}
