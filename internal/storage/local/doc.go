// Package local provides object stores that need no network: a directory
// backed store for development and an in-memory store with call accounting
// used throughout the tests.
package local
