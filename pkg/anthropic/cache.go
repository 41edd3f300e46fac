package anthropic

// minCacheableChars approximates the API's minimum cacheable prompt length.
// Shorter prompts are sent without a cache breakpoint.
const minCacheableChars = 4096

// SystemBlocks wraps text in a single system block. When ttl is set and the
// text is long enough, the block carries a cache breakpoint so repeated
// classification calls reuse the cached prompt prefix.
func SystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	block := SystemBlock{Text: text}
	if ttl != "" && len(text) >= minCacheableChars {
		block.CacheControl = &CacheControl{TTL: ttl}
	}
	return []SystemBlock{block}
}
