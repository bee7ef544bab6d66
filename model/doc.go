// Package model defines the provider-agnostic abstractions and concrete
// helpers for talking to language models inside reviewrag.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//     (a system directive, prior turns and the new user text)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic, Ollama) implement Model in sub-packages so
// the pipeline in package rag stays decoupled from vendor SDKs.
package model
