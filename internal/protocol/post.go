package protocol

import (
	"fmt"
	"time"
)

// Post is a single board entry, both the stored record and the wire
// shape. Date is the client-supplied creation time and the sole sort
// key (descending, newest first); it serializes as RFC 3339. AuthorID
// is an opaque client identity used only for layout on the reading
// side, never enforced by the server.
type Post struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Desc     string    `json:"desc"`
	Date     time.Time `json:"date"`
	AuthorID string    `json:"authorId,omitempty"`
}

// PostID formats a server-assigned post id from a store sequence
// number. Server ids live in the "P" namespace; clients tag
// unconfirmed entries with ids from a separate namespace so the two
// can never collide.
func PostID(seq int64) string {
	return fmt.Sprintf("P%06d", seq)
}
