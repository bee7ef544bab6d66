package ingest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/reviewrag/core"
	"github.com/hupe1980/reviewrag/logging"
)

const (
	// DefaultTitleColumn is the column holding the product title.
	DefaultTitleColumn = "product_title"
	// DefaultReviewColumn is the column holding the review text.
	DefaultReviewColumn = "review"
)

// recordNamespace seeds the name-based UUIDs used as record IDs.
var recordNamespace = uuid.MustParse("6f1c7a52-43f1-4a5e-9b0e-3d2f2a7c9e10")

// RawRow is one input row keyed by column name.
type RawRow map[string]string

// Policy decides what Normalize does with a malformed row.
type Policy int

const (
	// Abort stops at the first malformed row and returns its error.
	Abort Policy = iota
	// Skip drops malformed rows and reports them through OnSkip.
	Skip
)

// Options configures a Normalizer.
type Options struct {
	TitleColumn  string
	ReviewColumn string
	// ExtraColumns are copied into record metadata when present and non-empty.
	ExtraColumns []string
	Policy       Policy
	// OnSkip is called for each dropped row under the Skip policy.
	OnSkip func(err *core.MalformedInputError)
	Logger logging.Logger
}

// Normalizer converts RawRows to Records.
type Normalizer struct {
	opts Options
}

// NewNormalizer creates a Normalizer with the given options applied over the defaults.
func NewNormalizer(optFns ...func(o *Options)) *Normalizer {
	opts := Options{
		TitleColumn:  DefaultTitleColumn,
		ReviewColumn: DefaultReviewColumn,
		Policy:       Abort,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TitleColumn == "" {
		opts.TitleColumn = DefaultTitleColumn
	}
	if opts.ReviewColumn == "" {
		opts.ReviewColumn = DefaultReviewColumn
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Normalizer{opts: opts}
}

// Columns returns the configured title and review column names.
func (n *Normalizer) Columns() (title, review string) {
	return n.opts.TitleColumn, n.opts.ReviewColumn
}

// NormalizeRow converts a single row. idx is the row's position in its
// source and becomes part of both the error and the record ID.
func (n *Normalizer) NormalizeRow(idx int, row RawRow) (core.Record, error) {
	title, ok := row[n.opts.TitleColumn]
	if !ok {
		return core.Record{}, &core.MalformedInputError{Row: idx, Field: n.opts.TitleColumn, Reason: "missing"}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return core.Record{}, &core.MalformedInputError{Row: idx, Field: n.opts.TitleColumn, Reason: "empty"}
	}

	review, ok := row[n.opts.ReviewColumn]
	if !ok {
		return core.Record{}, &core.MalformedInputError{Row: idx, Field: n.opts.ReviewColumn, Reason: "missing"}
	}
	review = strings.TrimSpace(review)
	if review == "" {
		return core.Record{}, &core.MalformedInputError{Row: idx, Field: n.opts.ReviewColumn, Reason: "empty"}
	}

	md := map[string]string{core.TitleKey: title}
	for _, col := range n.opts.ExtraColumns {
		if col == core.TitleKey {
			continue
		}
		if v := strings.TrimSpace(row[col]); v != "" {
			md[col] = v
		}
	}

	return core.Record{
		ID:       recordID(idx, title, review),
		Content:  review,
		Metadata: md,
	}, nil
}

// Normalize converts rows in order. Under Abort the first malformed row is
// returned as a *core.MalformedInputError. Under Skip malformed rows are
// dropped and Normalize never fails.
func (n *Normalizer) Normalize(rows []RawRow) ([]core.Record, error) {
	out := make([]core.Record, 0, len(rows))
	skipped := 0
	for i, row := range rows {
		rec, err := n.NormalizeRow(i, row)
		if err != nil {
			if n.opts.Policy == Abort {
				return nil, err
			}
			skipped++
			n.opts.Logger.Warn("skipping malformed row", "row", i, "error", err.Error())
			if n.opts.OnSkip != nil {
				if mErr, ok := err.(*core.MalformedInputError); ok {
					n.opts.OnSkip(mErr)
				}
			}
			continue
		}
		out = append(out, rec)
	}
	n.opts.Logger.Info("normalized rows", "rows", len(rows), "records", len(out), "skipped", skipped)
	return out, nil
}

func recordID(idx int, title, review string) string {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%d\x00%s\x00%s", idx, title, review))).String()
}
