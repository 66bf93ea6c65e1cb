package game

import (
	"context"
	"time"
)

// ReceiptTTL is how long an idempotency key is remembered.
const ReceiptTTL = 72 * time.Hour

// Receipt is the stored outcome of a request sent with an idempotency key.
// It is written in the same commit as the request's own changes. Status is
// zero until the response has been recorded.
type Receipt struct {
	Key       string
	CreatedAt time.Time
	Status    int
	Body      []byte
}

// RequestClaim ties one request to an idempotency key. The first engine
// operation run with it claims the key.
type RequestClaim struct {
	Key       string
	committed bool
}

// Committed reports whether the key was claimed by a committed operation.
func (c *RequestClaim) Committed() bool {
	return c != nil && c.committed
}

type claimContextKey struct{}

func WithRequestClaim(ctx context.Context, c *RequestClaim) context.Context {
	return context.WithValue(ctx, claimContextKey{}, c)
}

func claimFrom(ctx context.Context) *RequestClaim {
	c, _ := ctx.Value(claimContextKey{}).(*RequestClaim)
	if c == nil || c.Key == "" || c.committed {
		return nil
	}
	return c
}

// Receipt returns the live receipt stored under key.
func (e *Engine) Receipt(key string) (Receipt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.receipts[key]
	if !ok || e.now().Sub(r.CreatedAt) > ReceiptTTL {
		return Receipt{}, false
	}
	r.Body = append([]byte(nil), r.Body...)
	return r, true
}

// RecordResponse stores the response sent for a committed claim. Claims
// whose operation failed never reached the store and are ignored.
func (e *Engine) RecordResponse(ctx context.Context, c *RequestClaim, status int, body []byte) error {
	if !c.Committed() {
		return nil
	}
	_, err := e.exec(ctx, nil, func(tx *txn) error {
		r, ok := e.receipts[c.Key]
		if !ok || r.Status != 0 {
			return nil
		}
		tx.touchReceipt(c.Key)
		r.Status = status
		r.Body = append([]byte(nil), body...)
		e.receipts[c.Key] = r
		return nil
	})
	return err
}

// claim records key for this request and drops receipts past their TTL.
func (tx *txn) claim(key string) error {
	now := tx.e.now()
	for k, r := range tx.e.receipts {
		if now.Sub(r.CreatedAt) > ReceiptTTL {
			tx.touchReceipt(k)
			delete(tx.e.receipts, k)
		}
	}
	if _, ok := tx.e.receipts[key]; ok {
		return ErrDuplicateRequest
	}
	tx.touchReceipt(key)
	tx.e.receipts[key] = Receipt{Key: key, CreatedAt: now}
	return nil
}
