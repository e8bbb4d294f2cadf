package seeder

import (
	"crypto/rand"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	csvHeader = "Token"
	// MaxCodes is the size of the code space: one letter followed by three digits.
	MaxCodes = 26 * 1000
)

// GenerateCodes returns n distinct random codes such as "K042".
func GenerateCodes(n int) ([]string, error) {
	if n < 0 || n > MaxCodes {
		return nil, fmt.Errorf("code count must be between 0 and %d", MaxCodes)
	}

	seen := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	for len(codes) < n {
		idx, err := rand.Int(rand.Reader, big.NewInt(MaxCodes))
		if err != nil {
			return nil, err
		}
		code := codeAt(int(idx.Int64()))
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

func codeAt(i int) string {
	return fmt.Sprintf("%c%03d", 'A'+rune(i/1000), i%1000)
}

// ValidCode reports whether s has the one-letter three-digit shape.
func ValidCode(s string) bool {
	if len(s) != 4 || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ReadCSV reads codes from the first column, skipping an optional "Token" header,
// blank rows, invalid codes and repeats. It returns the codes and how many rows were skipped.
func ReadCSV(r io.Reader) ([]string, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		codes   []string
		skipped int
		seen    = map[string]struct{}{}
	)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, err
		}
		if len(record) == 0 {
			continue
		}
		value := strings.ToUpper(strings.TrimSpace(record[0]))
		if line == 1 && strings.EqualFold(value, csvHeader) {
			continue
		}
		if value == "" {
			continue
		}
		if !ValidCode(value) {
			skipped++
			continue
		}
		if _, dup := seen[value]; dup {
			skipped++
			continue
		}
		seen[value] = struct{}{}
		codes = append(codes, value)
	}
	return codes, skipped, nil
}

// WriteCSV writes codes under a "Token" header.
func WriteCSV(w io.Writer, codes []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{csvHeader}); err != nil {
		return err
	}
	for _, code := range codes {
		if err := writer.Write([]string{code}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
