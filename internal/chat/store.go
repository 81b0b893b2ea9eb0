package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// SQLThreadStore reads thread directory pages from the relational store.
// Write access to these tables belongs to the wider application; this layer
// only observes them.
type SQLThreadStore struct {
	db *sql.DB
}

// NewSQLThreadStore creates a thread store backed by db.
func NewSQLThreadStore(db *sql.DB) *SQLThreadStore {
	return &SQLThreadStore{db: db}
}

// ListThreads returns one page of the user's threads, ordered by last-message
// timestamp descending, joined to the per-user participant row for the unread
// count.
func (s *SQLThreadStore) ListThreads(ctx context.Context, userID string, limit, offset int) ([]ThreadSummary, error) {
	query := `
	SELECT t.id, t.quote_id, t.shipment_id, t.shipper_branch_org_id, t.gallery_branch_org_id,
	       t.conversation_sid, t.conversation_type, t.initiator_shipper_org_id,
	       t.peer_shipper_org_ids, t.metadata, t.last_message_at, p.unread_count
	FROM chat_threads t
	JOIN chat_thread_participants p ON p.thread_id = t.id
	WHERE p.user_id = $1
	ORDER BY t.last_message_at DESC NULLS LAST, t.id
	LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat threads: %w", err)
	}
	defer rows.Close()

	var threads []ThreadSummary
	for rows.Next() {
		var (
			t             ThreadSummary
			quoteID       sql.NullString
			shipmentID    sql.NullString
			shipperBranch sql.NullString
			galleryBranch sql.NullString
			convSID       sql.NullString
			convType      sql.NullString
			initiatorOrg  sql.NullString
			peerOrgIDs    pq.StringArray
			metadata      []byte
			lastMessageAt sql.NullTime
		)

		err := rows.Scan(
			&t.ID, &quoteID, &shipmentID, &shipperBranch, &galleryBranch,
			&convSID, &convType, &initiatorOrg,
			&peerOrgIDs, &metadata, &lastMessageAt, &t.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat thread: %w", err)
		}

		t.QuoteID = quoteID.String
		t.ShipmentID = shipmentID.String
		t.ShipperBranchOrgID = shipperBranch.String
		t.GalleryBranchOrgID = galleryBranch.String
		t.ConversationSID = convSID.String
		t.ConversationType = convType.String
		t.InitiatorShipperOrgID = initiatorOrg.String
		t.PeerShipperOrgIDs = []string(peerOrgIDs)
		if lastMessageAt.Valid {
			t.LastMessageAt = lastMessageAt.Time
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for thread %s: %w", t.ID, err)
			}
		}

		threads = append(threads, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat threads: %w", err)
	}

	return threads, nil
}
