// Package index groups the similarity index backends consumed by the
// retriever through core.Index. Select an implementation (in-process
// memory or Milvus) at wiring time.
package index
