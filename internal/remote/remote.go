// Package remote defines the narrow interface the sync layer needs from the
// remote relational store, and classifies its failures.
package remote

import (
	"context"
	"errors"
	"net"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
)

// Record is one remote row as a column map.
type Record = map[string]interface{}

// Eq is an equality filter on one column.
type Eq struct {
	Column string
	Value  interface{}
}

// Query selects rows from a remote table.
type Query struct {
	Eq     []Eq
	Order  string
	Limit  int
	Offset int
}

// OwnedBy returns a query for every row owned by userID, ordered by id.
func OwnedBy(userID string) Query {
	return Query{Eq: []Eq{{Column: "user_id", Value: userID}}, Order: "id"}
}

// Client reads and writes remote tables. Tables are addressed by their
// local enum value; implementations translate to the remote name.
//
// Upsert is keyed by id. Delete of a missing row succeeds.
type Client interface {
	Select(ctx context.Context, t models.Table, q Query) ([]Record, error)
	Insert(ctx context.Context, t models.Table, rec Record) error
	Update(ctx context.Context, t models.Table, id string, rec Record) error
	Upsert(ctx context.Context, t models.Table, rec Record) error
	Delete(ctx context.Context, t models.Table, id string) error
}

// SelectAll pages through q until the remote returns a short page.
func SelectAll(ctx context.Context, c Client, t models.Table, q Query, pageSize int) ([]Record, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	var out []Record
	for offset := 0; ; offset += pageSize {
		page := q
		page.Limit = pageSize
		page.Offset = offset
		recs, err := c.Select(ctx, t, page)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		if len(recs) < pageSize {
			return out, nil
		}
	}
}

// CheckTable rejects tables outside the mirrored set.
func CheckTable(t models.Table) error {
	if !t.Valid() {
		return apperrors.Newf(apperrors.ErrUnsupportedTable, "unsupported table %s", t)
	}
	return nil
}

// ClassifyStatus maps an HTTP-style status code to an error code.
func ClassifyStatus(status int) apperrors.ErrorCode {
	switch {
	case status == 401 || status == 403:
		return apperrors.ErrRemoteAuth
	case status == 408 || status == 504:
		return apperrors.ErrRemoteTimeout
	case status == 429 || status >= 500:
		return apperrors.ErrRemoteUnavailable
	}
	return apperrors.ErrRemoteRejected
}

// ClassifyTransport wraps a transport-level failure. Context deadlines and
// network timeouts become REMOTE_TIMEOUT; everything else on the wire
// becomes REMOTE_UNAVAILABLE.
func ClassifyTransport(msg string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Wrap(apperrors.ErrRemoteTimeout, msg, err)
	}
	return apperrors.Wrap(apperrors.ErrRemoteUnavailable, msg, err)
}
