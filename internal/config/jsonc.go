package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tailscale/hujson"
)

// standardizeJSONC turns JSONC into plain JSON. Comments and trailing commas
// become spaces, so decoder offsets still point into the original text.
func standardizeJSONC(content string) (string, error) {
	plain, err := hujson.Standardize([]byte(content))
	if err != nil {
		return "", fmt.Errorf("invalid JSONC: %w", err)
	}
	return string(plain), nil
}

// decodeStrict decodes exactly one JSON value into dst, rejecting unknown
// fields and reporting positions as line/column.
func decodeStrict(content string, dst any) error {
	decoder := json.NewDecoder(strings.NewReader(content))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return withPosition(content, err)
	}

	var extra json.RawMessage
	switch err := decoder.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return errors.New("multiple JSON values are not allowed")
	default:
		return withPosition(content, err)
	}
}

func withPosition(content string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := lineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

// lineCol converts a decoder offset (bytes consumed) to the 1-based position
// of the last consumed byte.
func lineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}
	limit := min(int(offset), len(content))

	line, col := 1, 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
