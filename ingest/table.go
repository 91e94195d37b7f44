package ingest

import (
	"strings"
	"unicode"
)

// renderTable converts extracted table rows into pipe Markdown. The first
// row is treated as the header. Cells are trimmed and embedded pipes
// escaped so the output stays a valid single table.
func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteByte('|')
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
				cell = strings.ReplaceAll(cell, "|", "\\|")
				cell = strings.ReplaceAll(cell, "\n", " ")
			}
			b.WriteByte(' ')
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteByte('\n')
	}

	writeRow(rows[0])
	b.WriteByte('|')
	for i := 0; i < cols; i++ {
		b.WriteString(" --- |")
	}
	b.WriteByte('\n')
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

// financialKeywords mark a table as financial data. Both English terms and
// the Chinese terms common in A-share annual reports are checked.
var financialKeywords = []string{
	"revenue", "income", "profit", "loss", "margin", "ebitda",
	"assets", "liabilities", "equity", "cash flow", "dividend",
	"earnings", "expense", "cost", "depreciation", "amortization",
	"营业收入", "净利润", "资产", "负债", "现金流", "毛利",
	"营业成本", "股东权益", "每股收益", "利润总额",
}

// classifyTable labels a rendered table as financial or general based on
// keyword hits in its header and cells.
func classifyTable(rows [][]string) string {
	for _, row := range rows {
		for _, cell := range row {
			lower := strings.ToLower(cell)
			for _, kw := range financialKeywords {
				if strings.Contains(lower, kw) {
					return "financial"
				}
			}
		}
	}
	return "general"
}

// residueDigitRatio is the digit density above which a short text fragment
// is treated as table residue left behind by the extractor.
const residueDigitRatio = 0.4

// isTableResidue reports whether a free-text fragment looks like leftover
// table content: short, and dominated by digits and numeric punctuation.
// Such fragments duplicate the table child already emitted for the region
// and would pollute text search.
func isTableResidue(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if len([]rune(trimmed)) > 200 {
		return false
	}
	var numeric, total int
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == '%' || r == '-' || r == '(' || r == ')' {
			numeric++
		}
	}
	if total == 0 {
		return true
	}
	return float64(numeric)/float64(total) >= residueDigitRatio
}
