// Package relay contains the Relay bounded context.
// This context decides which storefront cart and order state changes are
// forwarded to the CRM webhook, and guarantees each change is forwarded once.
//
// Key concepts:
//   - CartRecord / OrderRecord / PersonRecord: Value objects read from the storefront
//   - OutboundEvent: Canonical event contract posted to the CRM
//   - LedgerEntry: Durable "already forwarded" record keyed by a business key
//   - CartStatusPolicy / SituationSet / WindowPolicy: Named, swappable sync policies
//
// Design Pattern: Ports & Adapters
//   - Ports (SourceReader, PersonResolver, DeliverySink, Ledger) are defined here
//   - Adapters (Magazord client, CRM webhook sink, GORM ledger) live in the infrastructure layer
package relay
