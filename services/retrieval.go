package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/itish2003/memory-engine/logger"
	"github.com/itish2003/memory-engine/store"
)

// NoNotesMessage is the answer given when the user has nothing stored that the
// chosen strategy could look at.
const NoNotesMessage = "No relevant information found in your notes."

// Strategy names the retrieval path taken for a question.
type Strategy string

const (
	StrategyLatest     Strategy = "latest"
	StrategyTimeWindow Strategy = "time_window"
	StrategyTag        Strategy = "tag"
	StrategySimilarity Strategy = "similarity"
)

// QueryLimits bounds how much of a user's corpus each strategy looks at.
type QueryLimits struct {
	DefaultTopK     int
	LatestScan      int
	FilterScan      int
	CandidateFactor int
}

// DefaultQueryLimits returns the limits used when none are configured.
func DefaultQueryLimits() QueryLimits {
	return QueryLimits{DefaultTopK: 5, LatestScan: 100, FilterScan: 1000, CandidateFactor: 3}
}

// Retrieval is the outcome of strategy selection. Applied holds only the filters
// the chosen strategy honored. Message is set, and Records empty, when there is
// nothing to answer from.
type Retrieval struct {
	Strategy Strategy
	Applied  Filters
	Records  []store.Record
	Message  string
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

// Retriever picks a retrieval strategy from the extracted filters and runs it
// against one user's chunks.
type Retriever struct {
	store  store.Store
	embed  embedFunc
	now    func() time.Time
	limits QueryLimits
	logger *zap.Logger
}

// NewRetriever creates a Retriever. A nil now uses time.Now and zero limits take
// their defaults.
func NewRetriever(s store.Store, embed embedFunc, now func() time.Time, limits QueryLimits, logger *zap.Logger) *Retriever {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: s, embed: embed, now: now, limits: limits.withDefaults(), logger: logger}
}

func (l QueryLimits) withDefaults() QueryLimits {
	d := DefaultQueryLimits()
	if l.DefaultTopK <= 0 {
		l.DefaultTopK = d.DefaultTopK
	}
	if l.LatestScan <= 0 {
		l.LatestScan = d.LatestScan
	}
	if l.FilterScan <= 0 {
		l.FilterScan = d.FilterScan
	}
	if l.CandidateFactor <= 0 {
		l.CandidateFactor = d.CandidateFactor
	}
	return l
}

// Retrieve runs the first applicable strategy: latest, time window, tag, then
// similarity search with an optional date post-filter.
func (r *Retriever) Retrieve(ctx context.Context, userID, question string, topK int, f Filters) (Retrieval, error) {
	log := logger.FromContext(ctx, r.logger)

	var (
		res Retrieval
		err error
	)
	switch {
	case f.Time != nil && f.Time.Kind == TimeLatest:
		res, err = r.latest(ctx, userID, *f.Time)
	case f.Time != nil:
		res, err = r.timeWindow(ctx, userID, *f.Time)
	case f.Tag != nil:
		res, err = r.tagged(ctx, userID, *f.Tag)
	default:
		res, err = r.similar(ctx, userID, question, topK, f.Date)
	}
	if err != nil {
		return Retrieval{}, err
	}

	log.Info("Retrieved chunks",
		zap.String("strategy", string(res.Strategy)),
		zap.Int("chunks", len(res.Records)),
		zap.Bool("empty", res.Message != ""),
	)
	return res, nil
}

func (r *Retriever) latest(ctx context.Context, userID string, tf TimeFilter) (Retrieval, error) {
	res := Retrieval{Strategy: StrategyLatest, Applied: Filters{Time: &tf}}

	recs, err := r.store.List(ctx, store.ListOptions{UserID: userID, Limit: r.limits.LatestScan})
	if err != nil {
		return Retrieval{}, fmt.Errorf("scan latest chunks: %w", err)
	}
	if len(recs) == 0 {
		res.Message = NoNotesMessage
		return res, nil
	}

	type dated struct {
		rec store.Record
		at  time.Time
	}
	candidates := make([]dated, 0, len(recs))
	for _, rec := range recs {
		at, ok := parseTimestamp(rec.Metadata.Timestamp)
		if !ok {
			r.logger.Debug("Skipping chunk with unparsable timestamp", zap.String("chunk_id", rec.ChunkID))
			continue
		}
		candidates = append(candidates, dated{rec: rec, at: at})
	}
	if len(candidates) == 0 {
		res.Message = "No notes found with a valid timestamp."
		return res, nil
	}

	slices.SortStableFunc(candidates, func(a, b dated) int { return b.at.Compare(a.at) })

	limit := tf.Limit
	if limit <= 0 {
		limit = 1
	}
	for i := 0; i < len(candidates) && i < limit; i++ {
		res.Records = append(res.Records, candidates[i].rec)
	}
	return res, nil
}

func (r *Retriever) timeWindow(ctx context.Context, userID string, tf TimeFilter) (Retrieval, error) {
	res := Retrieval{Strategy: StrategyTimeWindow, Applied: Filters{Time: &tf}}

	recs, err := r.store.List(ctx, store.ListOptions{UserID: userID, Limit: r.limits.FilterScan})
	if err != nil {
		return Retrieval{}, fmt.Errorf("scan chunks for %s: %w", tf.Kind, err)
	}
	if len(recs) == 0 {
		res.Message = NoNotesMessage
		return res, nil
	}

	now := r.now().UTC()
	var target string
	switch tf.Kind {
	case TimeToday:
		target = now.Format(time.DateOnly)
	case TimeYesterday:
		target = now.AddDate(0, 0, -1).Format(time.DateOnly)
	default:
		target = now.AddDate(0, 0, -tf.Days).Format(time.DateOnly)
	}

	for _, rec := range recs {
		day, ok := calendarDate(rec.Metadata.Timestamp)
		if !ok {
			continue
		}
		if day == target || (tf.Kind == TimeRecent && day > target) {
			res.Records = append(res.Records, rec)
		}
	}
	if len(res.Records) == 0 {
		res.Message = fmt.Sprintf("No notes found for %s.", describeWindow(tf))
	}
	return res, nil
}

func (r *Retriever) tagged(ctx context.Context, userID string, tag TagFilter) (Retrieval, error) {
	res := Retrieval{Strategy: StrategyTag, Applied: Filters{Tag: &tag}}

	recs, err := r.store.List(ctx, store.ListOptions{UserID: userID, Limit: r.limits.FilterScan})
	if err != nil {
		return Retrieval{}, fmt.Errorf("scan chunks for tag %q: %w", tag.Tag, err)
	}
	if len(recs) == 0 {
		res.Message = NoNotesMessage
		return res, nil
	}

	want := strings.ToLower(tag.Tag)
	for _, rec := range recs {
		if strings.Contains(strings.ToLower(rec.Metadata.Tags), want) {
			res.Records = append(res.Records, rec)
		}
	}
	if len(res.Records) == 0 {
		res.Message = fmt.Sprintf("No notes found with tag '%s'.", tag.Tag)
	}
	return res, nil
}

func (r *Retriever) similar(ctx context.Context, userID, question string, topK int, date string) (Retrieval, error) {
	res := Retrieval{Strategy: StrategySimilarity, Applied: Filters{Date: date}}
	if topK <= 0 {
		topK = r.limits.DefaultTopK
	}

	vec, err := r.embed(ctx, question)
	if err != nil {
		return Retrieval{}, fmt.Errorf("embed question: %w", err)
	}
	recs, err := r.store.Search(ctx, vec, userID, topK*r.limits.CandidateFactor)
	if err != nil {
		return Retrieval{}, fmt.Errorf("similarity search: %w", err)
	}
	if len(recs) == 0 {
		res.Message = NoNotesMessage
		return res, nil
	}

	if date != "" {
		kept := make([]store.Record, 0, len(recs))
		for _, rec := range recs {
			if day, ok := calendarDate(rec.Metadata.Timestamp); ok && day == date {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			res.Message = fmt.Sprintf("No notes found for %s.", date)
			return res, nil
		}
		recs = kept
	}

	if len(recs) > topK {
		recs = recs[:topK]
	}
	res.Records = recs
	return res, nil
}

func describeWindow(tf TimeFilter) string {
	switch tf.Kind {
	case TimeToday:
		return "today"
	case TimeYesterday:
		return "yesterday"
	default:
		return fmt.Sprintf("the last %d days", tf.Days)
	}
}
