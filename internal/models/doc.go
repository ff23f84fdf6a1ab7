// Package models defines the core domain models for tatekae.
//
// # Models
//
//   - Session: one expense-splitting session for a chat group, keyed by group ID
//   - Member: a participant in a session
//   - Payment: one entry in the session's append-only payment ledger
//   - Settlement: a computed transfer instruction between two members
//   - Balance: the derived paid/owes/balance figures for one member
//
// Members are identified by opaque user IDs handed to us by the chat platform.
//
// # Design Principles
//
// 1. **Soft delete only**: payments are never removed, only flagged with IsDeleted,
// so sequence numbers and audit history stay intact.
// 2. **Document shape**: JSON field names match the documents written by earlier
// versions of the bot, so old backups can be restored as-is.
// 3. **Value semantics**: sessions handed out by the cache are deep copies (see Clone);
// callers may mutate them freely.
// 4. **Derived state is not trusted**: Settlements are stored for display but are
// always recomputable from Payments and Members.
package models
