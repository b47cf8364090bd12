// Package testsupport holds helpers shared by package tests: temp-dir backed
// configs, stub executables on PATH, and small image fixtures.
package testsupport
