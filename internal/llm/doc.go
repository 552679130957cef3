// Package llm provides a provider-agnostic client for LLM-backed document
// analysis. It unifies the Anthropic, Google, and OpenAI wire protocols behind
// a single Client interface, enforces per-provider rate limits, tracks token
// usage for cost accounting, and repairs truncated or malformed structured
// output before it reaches callers.
package llm
