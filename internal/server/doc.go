// Package server implements the worker side of remote test execution.
//
// A worker exposes three routes:
//
//	POST /{suite}?method=<name>&runner=<tag>   run a suite, stream the result
//	GET  /healthz                             status and registry fingerprint
//	GET  /suites                              registered suites and methods
//
// # Response stream
//
// A run responds 200 with a text body. Console output written by the test
// arrives first, one line per write, tagged 'O' (stdout) or 'E' (stderr).
// The body ends with exactly one terminal line:
//
//	Osetting up
//	Efixture warning
//	RSUCCESS
//
// or, on failure, RERROR plus the headline, followed by raw trace lines
// running to the end of the body:
//
//	RERRORCalc#testAdd: expected 2, got 3
//		at calc_test.go:14
//
// A method filter that selects nothing yields the single line
// "RERRORNo tests remaining". A suite or runner the worker cannot resolve
// yields 500 with a plain-text body and no protocol lines.
package server
