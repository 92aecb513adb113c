package convert

type Format string

const (
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
)

// knownFormats fixes dispatch order regardless of how the request listed them.
var knownFormats = []Format{FormatDOCX, FormatTXT}

func (f Format) Ext() string {
	return "." + string(f)
}

// ParseFormats keeps tokens that exactly name a known format and drops the
// rest and duplicates. Matching is case-sensitive.
func ParseFormats(tokens []string) []Format {
	seen := make(map[Format]bool, len(tokens))
	for _, t := range tokens {
		seen[Format(t)] = true
	}
	out := make([]Format, 0, len(knownFormats))
	for _, f := range knownFormats {
		if seen[f] {
			out = append(out, f)
		}
	}
	return out
}
