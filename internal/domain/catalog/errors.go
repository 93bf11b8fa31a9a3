package catalog

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel kinds for catalog errors.
var (
	ErrInvalidCatalog = errors.New("invalid catalog")
	ErrLoadCatalog    = errors.New("load catalog failed")
)

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCatalog, fmt.Sprintf(format, args...))
}

func itoa(n int) string { return strconv.Itoa(n) }
