// Package marketplace defines the marketplace bounded context.
//
// It follows the Ports & Adapters pattern: the Adapter interface is the port
// every third-party marketplace implementation (MercadoLivre, Amazon,
// AliExpress) satisfies, and the rest of the system only ever talks to that
// port. The package also owns the records that make marketplace work
// auditable and reproducible:
//
//   - SyncLog: one row per sync invocation, opened as running and finalized
//     exactly once as completed or failed.
//   - CategoryMapping: durable (marketplace, remote category) to local
//     category mapping consulted on every import.
//   - ConnectionSettings: per-marketplace rate-limit policy, credential
//     reference and last connection test outcome.
//
// Every adapter failure is reported as a *MarketplaceError so callers can
// branch on the failure kind (authentication, rate limited, unsupported)
// with errors.Is.
package marketplace
