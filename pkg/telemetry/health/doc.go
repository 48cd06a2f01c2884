// Package health serves the liveness and readiness checks.
//
// Liveness answers 200 while the process is up. Readiness runs the checks
// registered on a Checker: the live update loop and the conflict detector
// must be running and the policy repository must answer a ping. Any failing
// check turns the readiness response into a 503 with a per-check report.
package health
