package tinyorm

import "strings"

// QuoteIdentifier doubles every quoteChar inside identifier and wraps the
// result in quoteChar.
//
//	QuoteIdentifier("hoge", "`")           // `hoge`
//	QuoteIdentifier(`fuga"hige"`, `"`)      // "fuga""hige"""
func QuoteIdentifier(identifier, quoteChar string) string {
	if quoteChar == "" {
		return identifier
	}
	escaped := strings.ReplaceAll(identifier, quoteChar, quoteChar+quoteChar)
	return quoteChar + escaped + quoteChar
}
