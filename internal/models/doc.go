// Package models defines the core domain models for Divvy.
//
// # Persisted models
//
//   - Expense: a shared expense owned by a group
//   - ExpenseSplit: one participant's share of an expense
//   - Settlement: a recorded payment that reduces one member's debt
//   - Group: a set of people sharing expenses
//   - SyncOperation: a queued local mutation awaiting remote confirmation
//
// # Derived models
//
//   - SettlementSuggestion: a proposed payment, recomputed from balances on
//     every store change and never persisted
//
// Balances themselves are plain map[string]decimal.Decimal values produced by
// the ledger package; they have no persisted representation.
//
// # Design principles
//
//  1. Monetary amounts are decimal.Decimal with a 2-digit scale; binary
//     floating point is never used for money.
//  2. Relationships use ID strings instead of pointers, avoiding circular
//     references and keeping models trivially serializable for sync payloads.
//  3. Replaying a SyncOperation payload is idempotent: the payload is a full
//     snapshot and the store upserts by primary key.
package models
