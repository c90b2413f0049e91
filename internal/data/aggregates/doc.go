// Package aggregates implements the domain aggregate contracts on gorm.
//
// Every write runs through executeWrite: one transaction from the TxRunner,
// errors mapped to aggregate codes, outcomes reported to Hooks. Callers pass
// repos built on the same *gorm.DB; inside a transaction all access goes
// through dbctx.Context.Tx.
package aggregates
