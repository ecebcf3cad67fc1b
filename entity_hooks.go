package tinyorm

import "context"

// =====================================
// Entity Hook Interfaces
// =====================================

// Hooks are implemented on the entity pointer type. A non-nil error
// returned by a Before hook aborts the statement; an error returned by an
// After hook is returned to the caller after the statement succeeded.

// BeforeInsertHook is called before an INSERT is sent. Values already
// staged on the statement are passed in. The receiver is a temporary
// entity built from those values; changes made to it are not written.
// Stage extra columns with Value before Execute instead.
type BeforeInsertHook interface {
	BeforeInsert(ctx context.Context, values Changes) error
}

// AfterInsertHook is called on the row re-selected by ExecuteSelect
type AfterInsertHook interface {
	AfterInsert(ctx context.Context) error
}

// BeforeUpdateHook is called with the pending changes before an UPDATE is
// sent.
type BeforeUpdateHook interface {
	BeforeUpdate(ctx context.Context, changes Changes) error
}

// AfterUpdateHook is called after the changes were applied to the entity
type AfterUpdateHook interface {
	AfterUpdate(ctx context.Context) error
}

// BeforeDeleteHook is called before deleting an entity
type BeforeDeleteHook interface {
	BeforeDelete(ctx context.Context) error
}

// AfterDeleteHook is called after successfully deleting an entity
type AfterDeleteHook interface {
	AfterDelete(ctx context.Context) error
}

// AfterFindHook is called on every entity scanned from a result set
type AfterFindHook interface {
	AfterFind(ctx context.Context) error
}

// PrimaryKeyValidator replaces the default primary-key checks of an
// entity type. values holds the key values in declaration order.
type PrimaryKeyValidator interface {
	ValidatePrimaryKeys(values []interface{}) error
}
