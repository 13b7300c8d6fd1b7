package bot

import "strings"

// ParseKV parses the "key:value" token grammar used by the admin
// commands, e.g. "user_id:alice permissions:read,write". Keys are
// lowercased; later duplicates win. Tokens without a colon are returned
// in order as positional arguments.
func ParseKV(args string) (map[string]string, []string) {
	kv := make(map[string]string)
	var positional []string
	for _, tok := range strings.Fields(args) {
		key, val, ok := strings.Cut(tok, ":")
		if !ok || key == "" {
			positional = append(positional, tok)
			continue
		}
		kv[strings.ToLower(key)] = val
	}
	return kv, positional
}
