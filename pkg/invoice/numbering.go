package invoice

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var trailingSequence = regexp.MustCompile(`-(\d+)$`)

// FreeNumber formats a free-plan invoice number, e.g. FACT-001
func FreeNumber(seq int64) string {
	return fmt.Sprintf("FACT-%03d", seq)
}

// ProNumber formats a branded invoice number:
// {COMPANY}-{YYYYMMDD}-{CLIENTNUMBER}-{N}
func ProNumber(company, clientNumber string, date time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%s-%d", companySlug(company), date.Format("20060102"), clientSlug(clientNumber), seq)
}

// GuestNumber formats a throwaway number for unsaved previews
func GuestNumber(date time.Time) string {
	return fmt.Sprintf("GUEST-%s-%03d", date.Format("20060102"), rand.IntN(1000))
}

// FormatNumber picks the numbering scheme for the plan
func FormatNumber(isPro bool, company, clientNumber string, date time.Time, seq int64) string {
	if isPro {
		return ProNumber(company, clientNumber, date, seq)
	}
	return FreeNumber(seq)
}

// ParseSequence extracts the trailing sequence of a number. It returns
// false when the number does not end in -<digits>.
func ParseSequence(number string) (int64, bool) {
	m := trailingSequence.FindStringSubmatch(number)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func companySlug(company string) string {
	var b strings.Builder
	for _, field := range strings.Fields(strings.ToUpper(company)) {
		var part strings.Builder
		for _, r := range field {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				part.WriteRune(r)
			}
		}
		if part.Len() == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('-')
		}
		b.WriteString(part.String())
	}
	if b.Len() == 0 {
		return "COMPANY"
	}
	return b.String()
}

func clientSlug(clientNumber string) string {
	clientNumber = strings.TrimSpace(clientNumber)
	if clientNumber == "" {
		return "1"
	}
	return strings.ReplaceAll(clientNumber, " ", "-")
}
