package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// NoMatch is the literal marker the model answers with when no valid id is visible.
const NoMatch = "NOT_FOUND"

var labelKeywords = []string{
	"Transaction ID", "Transaction Number", "Txn ID", "Reference", "Ref No", "Receipt No",
	"የግብይት ቁጥር", "መለያ ቁጥር",
	"Lakkoofsa Daldalaa",
}

// BuildExtractionPrompt renders the instruction for the current bank list. It
// must be rebuilt on every call so the accepted id shapes match what the
// pipeline will validate against.
func BuildExtractionPrompt(banks model.BankSpecs) string {
	var sb strings.Builder

	sb.WriteString("You are reading a screenshot of a mobile money or bank transfer confirmation.\n")
	sb.WriteString("Find the transaction id printed on it.\n\n")

	sb.WriteString("Accepted id formats (length and allowed starting characters):\n")
	for _, line := range shapeLines(banks) {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	sb.WriteString("\nThe id is usually next to one of these labels: ")
	sb.WriteString(strings.Join(labelKeywords, ", "))
	sb.WriteString(".\n\n")

	sb.WriteString("Never return:\n")
	sb.WriteString("- phone numbers, including masked ones such as 2519****1234\n")
	sb.WriteString("- dates or times in any format\n")
	sb.WriteString("- monetary amounts, balances or fees\n")
	sb.WriteString("- a value whose length or starting characters do not match an accepted format\n\n")

	sb.WriteString("Output contract: reply with the id only, no spaces, labels, quotes or explanation. ")
	sb.WriteString(fmt.Sprintf("If no accepted id is visible, reply with exactly %s.", NoMatch))

	return sb.String()
}

// shapeLines groups banks by id length so each line lists every prefix valid for that length.
func shapeLines(banks model.BankSpecs) []string {
	byLength := make(map[int][]string)
	for _, b := range banks {
		for _, p := range b.Prefixes {
			if p == "" {
				continue
			}
			if !contains(byLength[b.IDLength], p) {
				byLength[b.IDLength] = append(byLength[b.IDLength], p)
			}
		}
	}

	lengths := make([]int, 0, len(byLength))
	for l := range byLength {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)

	lines := make([]string, 0, len(lengths))
	for _, l := range lengths {
		prefixes := byLength[l]
		sort.Strings(prefixes)
		lines = append(lines, fmt.Sprintf("exactly %d characters, starting with one of: %s", l, strings.Join(prefixes, ", ")))
	}
	return lines
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
