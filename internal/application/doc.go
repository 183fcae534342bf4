// Package application wires the service together. It opens catalog storage,
// bootstraps the catalog, builds the cache, calculator, service, handlers and
// router, and owns the HTTP server and background catalog reloaders so the
// main package only deals with CLI parsing and signal handling.
package application
