// Package models contains the GORM persistence models of the relay: the
// deduplication ledger, the order watermark and the sync pass log.
// Domain types in internal/domain/relay stay free of GORM tags; repositories
// in the parent package map between the two.
package models
