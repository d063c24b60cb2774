// Package suggest turns the live transcript into AI suggestions.
//
// A [Batcher] accumulates transcript fragments and decides when enough has
// been said to justify a suggestion call. A [ContextManager] keeps the
// rolling meeting context sent alongside each batch, and a [Generator] asks
// an LLM for questions, resources, action items, and insights, prices the
// call, and removes suggestions that repeat recent ones.
package suggest
