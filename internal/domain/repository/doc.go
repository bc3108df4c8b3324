// Package repository defines the domain repository contracts.
//
// These interfaces are business contracts, independent of the backing store.
// Concrete implementations live under internal/store/ (postgres, memory).
//
// Conventions:
//   - context.Context is always the first parameter
//   - domain sentinel errors live in errors.go and are matched with errors.Is
//   - write operations that must be atomic (consent merge, refresh rotation,
//     primary key promotion) are single repository methods so adapters can
//     wrap them in one transaction
package repository
