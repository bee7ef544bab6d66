// Package ingest turns tabular review data into normalized core.Records.
//
// Reading (CSV, Parquet) is separated from normalization: readers produce
// RawRows keyed by column name and the Normalizer validates and converts
// them. Normalization is a pure transform that preserves row order and
// derives record IDs from row content, so normalizing identical input twice
// yields identical records.
package ingest
