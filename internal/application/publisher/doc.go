// Package publisher implements the multi-store fan-out write: concurrent
// idempotent upserts to heterogeneous store adapters with per-store retry,
// dead-lettering of exhausted writes, and a report that separates fully,
// partially, and non-committed entities. The system accepts eventual
// consistency across stores; there is no cross-store atomic commit.
package publisher
