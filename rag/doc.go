// Package rag implements the session-aware retrieval-augmented answering
// pipeline over product reviews.
//
// A Chain runs four sequential stages per question:
//
//	rewrite    fold conversation history into a standalone question (Rewriter)
//	retrieve   fetch the top-k review records for it (Retriever)
//	synthesize answer from those records only (Synthesizer)
//	persist    append the user and assistant turns to the session transcript
//
// Stage failures surface as *core.GenerationError or *core.RetrievalError
// and leave the transcript untouched. Directives (system prompts) are
// structured values validated when the pipeline is constructed.
package rag
