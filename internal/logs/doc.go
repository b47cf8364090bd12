// Package logs reads back the avatarreel log file.
//
// Last returns the final lines with a byte offset to resume from, Since reads
// everything appended after an offset, and Follow polls until the context is
// cancelled. Lines are bounded at 1 MiB so a runaway line cannot exhaust
// memory.
package logs
