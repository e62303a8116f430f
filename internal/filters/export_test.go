package filters

// CompiledRegexes reports how many expressions the table currently holds.
func CompiledRegexes(t *SymbolTable) int {
	return t.regexes.len()
}
