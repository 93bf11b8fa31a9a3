package extract_test

import "strings"

func replace(s, old, repl string) string { return strings.Replace(s, old, repl, 1) }
