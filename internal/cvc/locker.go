package cvc

import "context"

// Locker serializes mutating operations on a single content item.
// Lock blocks until the key is held or ctx is done; the returned func
// releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NopLocker relies on the database compare-and-swap alone.
type NopLocker struct{}

func (NopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

func lockKey(item ContentItem) string {
	return "cvc:item:" + item.Type + ":" + item.ID
}
