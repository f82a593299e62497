// Package llm extracts transaction ids from receipt screenshots using
// vision-capable language models. It supports Gemini, OpenAI and Anthropic,
// rotating across several API keys and serialising every call through a
// single spaced queue.
package llm
