// Package core provides the foundational domain types and collaborator
// contracts used by reviewrag. It defines:
//
//   - Records (normalized review text plus metadata, the unit of evidence)
//   - Turns and Transcripts (ordered, per-session conversation history)
//   - SessionStore (process-wide mapping from session id to transcript)
//   - Index and Embedder (the similarity search collaborator contracts)
//   - The error taxonomy shared by the pipeline stages
//
// The package keeps implementation concerns (model providers, index
// backends, prompt assembly) out of scope, exposing small interfaces so that
// backends can be swapped at wiring time.
package core
