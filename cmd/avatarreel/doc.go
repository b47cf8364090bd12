// Package main hosts the avatarreel CLI entrypoint and command graph.
//
// The Cobra command tree resolves flags and configuration into a pipeline
// run, and exposes the supporting views: dependency status, run history,
// configuration scaffolding, and a notification test. Heavy lifting lives in
// the internal packages; commands here only parse, wire, and render.
package main
