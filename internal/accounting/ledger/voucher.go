package ledger

import (
	"fmt"
	"strings"
)

const defaultVoucherFormat = "{PREFIX}-{NUMBER}"

// FormatVoucherNumber renders a sequence value, zero padding the number to six digits.
func FormatVoucherNumber(seq Sequence) string {
	format := seq.Format
	if format == "" {
		format = defaultVoucherFormat
	}
	prefix := seq.Prefix
	if prefix == "" {
		prefix = seq.DocumentType
	}
	return strings.NewReplacer(
		"{PREFIX}", prefix,
		"{NUMBER}", fmt.Sprintf("%06d", seq.Number),
	).Replace(format)
}
