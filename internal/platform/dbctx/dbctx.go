// Package dbctx carries an optional open transaction alongside a
// context.Context through repository call chains, so callers that already
// hold a transaction (the dispatcher, the lock manager) can pass it down
// without every repo method growing a separate "tx" parameter.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// DB returns the transaction if one is open, otherwise falls back to db.
func (c Context) DB(db *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx
	}
	return db
}

func Background() Context {
	return Context{Ctx: context.Background()}
}
