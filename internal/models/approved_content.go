package models

import "time"

// ApprovedContent is the unlock record the child-facing player reads.
// Song rows are child-scoped; album rows have an empty ChildID and apply to the whole account.
type ApprovedContent struct {
	ID              string      `db:"id" json:"id"`
	Kind            ContentKind `db:"kind" json:"kind"`
	OwnerID         string      `db:"owner_id" json:"owner_id"`
	ChildID         string      `db:"child_id" json:"child_id,omitempty"`
	ContentID       string      `db:"content_id" json:"content_id"`
	Name            string      `db:"name" json:"name"`
	Artist          string      `db:"artist" json:"artist"`
	AlbumName       string      `db:"album_name" json:"album_name,omitempty"`
	ArtworkURL      string      `db:"artwork_url" json:"artwork_url,omitempty"`
	HideArtwork     bool        `db:"hide_artwork" json:"hide_artwork"`
	SourceRequestID string      `db:"source_request_id" json:"source_request_id,omitempty"`
	ApprovedAt      time.Time   `db:"approved_at" json:"approved_at"`
}

// NotificationBatchEntry is a digest line scheduled when a request is created.
type NotificationBatchEntry struct {
	ID        string      `db:"id" json:"id"`
	OwnerID   string      `db:"owner_id" json:"owner_id"`
	RequestID string      `db:"request_id" json:"request_id"`
	Kind      ContentKind `db:"kind" json:"kind"`
	Title     string      `db:"title" json:"title"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	SentAt    *time.Time  `db:"sent_at" json:"sent_at,omitempty"`
}
