// Package memory is an in-process remote store used by tests and by the
// CLI's offline demo mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote"
)

// Client keeps remote tables in maps keyed by remote table name and id.
// Failures can be injected per call.
type Client struct {
	mu       sync.Mutex
	tables   map[string]map[string]remote.Record
	calls    map[string]int
	failNext []error
	failAll  error
	hook     func(op string, t models.Table)
}

var _ remote.Client = (*Client)(nil)

// New returns an empty store.
func New() *Client {
	return &Client{
		tables: make(map[string]map[string]remote.Record),
		calls:  make(map[string]int),
	}
}

// Seed writes records directly, bypassing failure injection.
func (c *Client) Seed(t models.Table, recs ...remote.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range recs {
		c.table(t.RemoteName())[fmt.Sprint(rec["id"])] = clone(rec)
	}
}

// FailNext makes the next n calls fail with err.
func (c *Client) FailNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.failNext = append(c.failNext, err)
	}
}

// FailAlways makes every call fail with err until cleared with nil.
func (c *Client) FailAlways(err error) {
	c.mu.Lock()
	c.failAll = err
	c.mu.Unlock()
}

// OnCall installs a hook run before each call, outside the store lock.
func (c *Client) OnCall(hook func(op string, t models.Table)) {
	c.mu.Lock()
	c.hook = hook
	c.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Rows returns a copy of every row in t's remote table, ordered by id.
func (c *Client) Rows(t models.Table) []remote.Record {
	return c.RowsByName(t.RemoteName())
}

// RowsByName returns a copy of every row in a remote table, ordered by id.
func (c *Client) RowsByName(name string) []remote.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]remote.Record, 0, len(c.tables[name]))
	for _, rec := range c.tables[name] {
		out = append(out, clone(rec))
	}
	sortBy(out, "id")
	return out
}

// Row returns one row by id.
func (c *Client) Row(t models.Table, id string) (remote.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.tables[t.RemoteName()][id]
	if !ok {
		return nil, false
	}
	return clone(rec), true
}

func (c *Client) table(name string) map[string]remote.Record {
	tbl, ok := c.tables[name]
	if !ok {
		tbl = make(map[string]remote.Record)
		c.tables[name] = tbl
	}
	return tbl
}

// begin records the call and returns any injected failure.
func (c *Client) begin(ctx context.Context, op string, t models.Table) error {
	if err := remote.CheckTable(t); err != nil {
		return err
	}
	c.mu.Lock()
	hook := c.hook
	c.calls[op]++
	c.mu.Unlock()

	if hook != nil {
		hook(op, t)
	}
	if err := ctx.Err(); err != nil {
		return remote.ClassifyTransport(op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll != nil {
		return c.failAll
	}
	if len(c.failNext) > 0 {
		err := c.failNext[0]
		c.failNext = c.failNext[1:]
		return err
	}
	return nil
}

// Select implements remote.Client.
func (c *Client) Select(ctx context.Context, t models.Table, q remote.Query) ([]remote.Record, error) {
	if err := c.begin(ctx, "select", t); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []remote.Record
	for _, rec := range c.tables[t.RemoteName()] {
		if matches(rec, q.Eq) {
			out = append(out, clone(rec))
		}
	}
	order := q.Order
	if order == "" {
		order = "id"
	}
	sortBy(out, order)

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert implements remote.Client. A duplicate id is rejected.
func (c *Client) Insert(ctx context.Context, t models.Table, rec remote.Record) error {
	if err := c.begin(ctx, "insert", t); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprint(rec["id"])
	tbl := c.table(t.RemoteName())
	if _, exists := tbl[id]; exists {
		return apperrors.Newf(apperrors.ErrRemoteRejected, "duplicate key %s in %s", id, t.RemoteName())
	}
	tbl[id] = clone(rec)
	return nil
}

// Update implements remote.Client. Updating a missing row is a no-op.
func (c *Client) Update(ctx context.Context, t models.Table, id string, rec remote.Record) error {
	if err := c.begin(ctx, "update", t); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.table(t.RemoteName())[id]
	if !ok {
		return nil
	}
	for k, v := range rec {
		if k != "id" {
			existing[k] = v
		}
	}
	return nil
}

// Upsert implements remote.Client.
func (c *Client) Upsert(ctx context.Context, t models.Table, rec remote.Record) error {
	if err := c.begin(ctx, "upsert", t); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table(t.RemoteName())[fmt.Sprint(rec["id"])] = clone(rec)
	return nil
}

// Delete implements remote.Client.
func (c *Client) Delete(ctx context.Context, t models.Table, id string) error {
	if err := c.begin(ctx, "delete", t); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.table(t.RemoteName()), id)
	return nil
}

func matches(rec remote.Record, eq []remote.Eq) bool {
	for _, f := range eq {
		if fmt.Sprint(rec[f.Column]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func sortBy(recs []remote.Record, column string) {
	sort.SliceStable(recs, func(i, j int) bool {
		return fmt.Sprint(recs[i][column]) < fmt.Sprint(recs[j][column])
	})
}

func clone(rec remote.Record) remote.Record {
	out := make(remote.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
