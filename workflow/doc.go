// Package workflow holds the routing core for request submissions: the role
// registry, the routing plan, the append-only history and the decision table
// that computes who acts next. Everything here is pure; persistence, locking
// and notification delivery live in the services package.
package workflow
