// Package preflight provides readiness checks for the tools, model files,
// directories, and services avatarreel depends on.
//
// The "avatarreel status" command renders every check. RunAll covers the
// checks that are cheap enough to repeat before each run (directories and the
// ntfy endpoint); binary and checkpoint checks are exposed separately because
// they are reported per dependency rather than pass/fail.
package preflight
