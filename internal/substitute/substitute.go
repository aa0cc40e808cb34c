// Package substitute implements the variable substitutor (spec §4.6): a
// recursive, single-pass rewrite of every string leaf in a structured
// config, replacing ${name} tokens with bound values.
//
// No templating library in the retrieved example pack models this
// single-pass, leaf-only, ${name}-delimited substitution over an
// untyped JSON tree: text/template uses {{ }} delimiters and compiles
// against a fixed data shape rather than an arbitrary decoded document,
// and no mustache/sprig-style engine appears anywhere in the pack. The
// substitution is therefore hand-rolled on regexp, the narrowest stdlib
// tool that fits, rather than forcing an ecosystem templating engine
// into a role it was not designed for.
package substitute

import (
	"regexp"

	"github.com/wraithgate/attackbench/internal/docnode"
)

var tokenPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_]+)\}`)

// Bindings maps a bare token name (without ${}) to its replacement text.
type Bindings map[string]string

// Apply rewrites every string leaf of v, replacing every occurrence of
// ${name} with bindings[name]. Unmatched tokens are left intact.
// Substitution is single-pass: replacement text is never re-scanned for
// further tokens, matching spec §4.6 and the purity property in §8.
func Apply(v any, bindings Bindings) any {
	return docnode.WalkStrings(v, func(s string) string {
		return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
			name := tokenPattern.FindStringSubmatch(match)[1]
			if repl, ok := bindings[name]; ok {
				return repl
			}
			return match
		})
	})
}
