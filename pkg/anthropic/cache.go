package anthropic

// BuildCachedSystemBlocks wraps a system prompt in a single block with a
// cache breakpoint. Passes that share a system prompt within the TTL hit
// the warm cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	cc := &CacheControl{TTL: ttl}
	return []SystemBlock{{Text: text, CacheControl: cc}}
}
