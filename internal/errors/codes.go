package errors

// Error codes for the stackgen toolchain
// These codes are used in error messages and documentation
// to provide consistent error identification across the toolchain.
//
// Error code ranges:
// E0001-E0099: IR text syntax errors
// E0100-E0199: IR structure errors (names, blocks, storage layout)
// E0200-E0699: Reserved
// E0700-E0799: Code generation errors
// E0800-E0899: Warning codes
// E0900-E0999: Reserved for tooling errors

const (
	// E0001: The IR text could not be parsed
	ErrorSyntax = "E0001"

	// E0002: Integer literal does not fit in a 256-bit word
	ErrorLiteralOverflow = "E0002"

	// E0100: A name was read before any assignment in the current block
	ErrorUndefinedLocal = "E0100"

	// E0101: Unknown operation mnemonic
	ErrorUnknownOp = "E0101"

	// E0102: Operation called with the wrong number of operands
	ErrorArityMismatch = "E0102"

	// E0103: Reference to an undeclared storage variable
	ErrorUnknownStorage = "E0103"

	// E0104: Jump or branch to a block that does not exist
	ErrorUndefinedBlock = "E0104"

	// E0105: Two blocks or functions share a name
	ErrorDuplicateDeclaration = "E0105"

	// E0106: Edge passes the wrong number of values to a block
	ErrorEdgeArity = "E0106"

	// E0107: Block has no terminator
	ErrorMissingTerminator = "E0107"

	// E0108: Invalid storage declaration (bad packed range, key on a plain slot)
	ErrorInvalidStorage = "E0108"

	// E0109: An operation without a result is used as a value
	ErrorNoResult = "E0109"

	// E0700: Stack scheduler needs a value deeper than the 16 addressable slots
	ErrorStackDepthExceeded = "E0700"

	// E0701: Label resolution did not reach a fixed point
	ErrorLabelResolution = "E0701"

	// E0702: Jump to an unknown label during assembly
	ErrorUndefinedLabel = "E0702"
)

const (
	// E0800: Value computed but never used
	WarningUnusedValue = "E0800"

	// E0801: Block unreachable from the entry block
	WarningUnreachableBlock = "E0801"
)

// GetErrorDescription returns a human-readable description of an error code
func GetErrorDescription(code string) string {
	switch code {
	case ErrorSyntax:
		return "IR text could not be parsed"
	case ErrorLiteralOverflow:
		return "Integer literal does not fit in 256 bits"
	case ErrorUndefinedLocal:
		return "Name is not defined in this block"
	case ErrorUnknownOp:
		return "Unknown operation"
	case ErrorArityMismatch:
		return "Wrong number of operands"
	case ErrorUnknownStorage:
		return "Storage variable is not declared"
	case ErrorUndefinedBlock:
		return "Target block is not defined"
	case ErrorDuplicateDeclaration:
		return "Name is declared more than once"
	case ErrorEdgeArity:
		return "Edge argument count does not match block parameters"
	case ErrorMissingTerminator:
		return "Block does not end in a terminator"
	case ErrorInvalidStorage:
		return "Invalid storage declaration"
	case ErrorNoResult:
		return "Operation produces no value"
	case ErrorStackDepthExceeded:
		return "Too many live values for the 16 addressable stack slots"
	case ErrorLabelResolution:
		return "Jump label offsets did not stabilise"
	case ErrorUndefinedLabel:
		return "Jump to an undefined label"
	case WarningUnusedValue:
		return "Value is computed but never used"
	case WarningUnreachableBlock:
		return "Block is unreachable"
	default:
		return "Unknown error code"
	}
}

// IsWarning returns true if the error code represents a warning rather than an error
func IsWarning(code string) bool {
	return code >= "E0800" && code < "E0900" || code[0] == 'W'
}

// GetErrorCategory returns the category of the error based on its code
func GetErrorCategory(code string) string {
	switch {
	case code >= "E0001" && code < "E0100":
		return "Syntax"
	case code >= "E0100" && code < "E0200":
		return "IR Structure"
	case code >= "E0700" && code < "E0800":
		return "Code Generation"
	case code >= "E0800" && code < "E0900":
		return "Warning"
	case code[0] == 'W':
		return "Warning"
	default:
		return "Unknown"
	}
}
