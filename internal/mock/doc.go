// Package mock provides in-memory implementations of the store, upstream
// and delivery interfaces for tests.
//
// Every type is safe for concurrent use and records the calls made to it so
// tests can assert on write counts.
package mock
