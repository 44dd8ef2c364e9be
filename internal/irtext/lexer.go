package irtext

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// Keywords are lexed apart from identifiers so that an optional operand
// list never swallows the next block header or terminator.
var Lexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Comment", Pattern: `//[^\n]*`, Action: nil},

		{Name: "Keyword", Pattern: `(program|storage|map|array|bits|fn|returns|block|jump|br|return|revert|stop)\b`, Action: nil},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`, Action: nil},

		{Name: "Integer", Pattern: `0x[0-9a-fA-F]+|[0-9]+`, Action: nil},

		// Longest operators first
		{Name: "Operator", Pattern: `\+\+|--|\+=|-=|\*=|&=|\|=|\^=|=`, Action: nil},
		{Name: "Punctuation", Pattern: `[{}()\[\],:@.]`, Action: nil},

		{Name: "Whitespace", Pattern: `[ \t\r\n]+`, Action: nil},
	},
})
