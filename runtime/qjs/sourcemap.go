package qjs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sourcemap/sourcemap"
)

// StackLogEntry a parsed frame of an engine stack trace
type StackLogEntry struct {
	Function string
	File     string
	Line     int
	Column   int
}

// StackLogEntryList a parsed engine stack trace
type StackLogEntryList []*StackLogEntry

var stackRe = regexp.MustCompile(`at\s+(?:(.*?)\s+\()?([^()\s]+):(\d+)(?::(\d+))?\)?`)

func (entry *StackLogEntry) String() string {
	return fmt.Sprintf("    at %s (%s:%d:%d)", entry.Function, entry.File, entry.Line, entry.Column)
}

// String map the entries through the source map and render the stack
func (list StackLogEntryList) String(name string, smapBytes []byte) string {

	if len(smapBytes) > 0 {
		smap, err := sourcemap.Parse(name+".map", smapBytes)
		if err == nil {
			for _, entry := range list {
				file, fn, line, col, ok := smap.Source(entry.Line, entry.Column)
				if ok {
					entry.File = file
					entry.Line = line
					entry.Column = col
					if fn != "" {
						entry.Function = fn
					}
				}
			}
		}
	}

	output := []string{}
	for _, entry := range list {
		output = append(output, entry.String())
	}
	return strings.Join(output, "\n")
}

// parseStackTrace parse the stack trace text reported by the engine
func parseStackTrace(trace string) StackLogEntryList {
	res := StackLogEntryList{}
	lines := strings.Split(trace, "\n")
	for _, line := range lines {
		match := stackRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		lineNo, _ := strconv.Atoi(match[3])
		column := 0
		if match[4] != "" {
			column, _ = strconv.Atoi(match[4])
		}

		fn := match[1]
		if fn == "" {
			fn = "<anonymous>"
		}

		res = append(res, &StackLogEntry{
			Function: fn,
			File:     match[2],
			Line:     lineNo,
			Column:   column,
		})
	}
	return res
}

// stackTrace render an engine stack trace, mapped through the source map
// when one exists
func stackTrace(name, trace string, smapBytes []byte) string {
	entries := parseStackTrace(trace)
	if len(entries) == 0 {
		return trace
	}
	return entries.String(name, smapBytes)
}
