package format

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)
)

const (
	VoucherTemplate = "{YY}{MM}-{SEQ4}"
	FormTemplate    = "{YY}{MM}-PF-{SEQ4}"
	BatchTemplate   = "BATCH-{YYYY}-{SEQ4}"

	MonthlyBucket = "{YY}{MM}"
	YearlyBucket  = "{YYYY}"
)

// Format renders a document or batch number from a template, the date that
// selects its bucket, and a sequence value.
//
// Format is pure: no DB access and fully deterministic.
func Format(template string, date time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("number template is empty")
	}

	if seq <= 0 {
		return "", fmt.Errorf("invalid sequence: %d", seq)
	}

	if max := MaxSequence(template); max > 0 && seq > max {
		return "", fmt.Errorf("sequence %d exceeds template width of %s", seq, template)
	}

	out := replaceDateTokens(template, date)

	// Simple sequence
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	// Padded sequence
	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}

		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}

		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in number format: %s", out)
	}

	return out, nil
}

// Bucket renders the date-only layout that keys a counter, e.g. "2601" for
// MonthlyBucket in January 2026.
func Bucket(layout string, date time.Time) (string, error) {
	out := replaceDateTokens(layout, date)
	if out == "" || strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("invalid bucket layout: %q", layout)
	}
	return out, nil
}

// MaxSequence returns the largest value the padded sequence token of template
// can hold, or 0 when the template has no fixed width.
func MaxSequence(template string) int64 {
	match := seqPadRe.FindStringSubmatch(template)
	if len(match) != 2 {
		return 0
	}
	width, err := strconv.Atoi(match[1])
	if err != nil || width <= 0 || width > 18 {
		return 0
	}
	return int64(math.Pow10(width)) - 1
}

func replaceDateTokens(s string, date time.Time) string {
	s = strings.ReplaceAll(s, "{YYYY}", date.Format("2006"))
	s = strings.ReplaceAll(s, "{YY}", date.Format("06"))
	s = strings.ReplaceAll(s, "{MM}", date.Format("01"))
	s = strings.ReplaceAll(s, "{DD}", date.Format("02"))
	return s
}
