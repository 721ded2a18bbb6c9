package models

import "time"

// ContentKind distinguishes song and album targets.
type ContentKind string

const (
	KindSong  ContentKind = "song"
	KindAlbum ContentKind = "album"
)

// RequestStatus is the lifecycle state of a content request.
type RequestStatus string

const (
	StatusPending           RequestStatus = "pending"
	StatusApproved          RequestStatus = "approved"
	StatusDenied            RequestStatus = "denied"
	StatusPartiallyApproved RequestStatus = "partially_approved"
)

// Request represents a child's request for a song or an album, resolved by a parent.
type Request struct {
	ID                  string        `db:"id" json:"id"`
	Kind                ContentKind   `db:"kind" json:"kind"`
	RequesterID         string        `db:"requester_id" json:"requester_id"` // child profile
	OwnerID             string        `db:"owner_id" json:"owner_id"`         // parent account
	ContentID           string        `db:"content_id" json:"content_id"`     // catalog id, may be empty for legacy album requests
	TargetKey           string        `db:"target_key" json:"-"`
	Name                string        `db:"name" json:"name"`
	Artist              string        `db:"artist" json:"artist"`
	AlbumName           string        `db:"album_name" json:"album_name,omitempty"`
	ArtworkURL          string        `db:"artwork_url" json:"artwork_url,omitempty"`
	Status              RequestStatus `db:"status" json:"status"`
	KidNote             *string       `db:"kid_note" json:"kid_note,omitempty"`
	DenialReason        *string       `db:"denial_reason" json:"denial_reason,omitempty"`
	PartialApprovalNote *string       `db:"partial_approval_note" json:"partial_approval_note,omitempty"`
	ViewedByKid         bool          `db:"viewed_by_kid" json:"viewed_by_kid"`
	RequestedAt         time.Time     `db:"requested_at" json:"requested_at"`
	ReviewedAt          *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// HasCatalogID reports whether the external catalog id was captured at creation time.
func (r *Request) HasCatalogID() bool {
	return r.ContentID != ""
}

// CreateRequestInput is what a child submits.
type CreateRequestInput struct {
	Kind        ContentKind `json:"kind" binding:"required,oneof=song album" validate:"required,oneof=song album"`
	RequesterID string      `json:"-" validate:"required"`
	OwnerID     string      `json:"-" validate:"required"`
	ContentID   string      `json:"content_id" validate:"required_if=Kind song"`
	Name        string      `json:"name" binding:"required" validate:"required,max=512"`
	Artist      string      `json:"artist" binding:"required" validate:"required,max=512"`
	AlbumName   string      `json:"album_name" validate:"max=512"`
	ArtworkURL  string      `json:"artwork_url" validate:"omitempty,url"`
	KidNote     string      `json:"kid_note" validate:"max=1000"`
}

// AlbumTrack is one track of an album, as supplied by the catalog at approval time.
type AlbumTrack struct {
	OwnerID     string    `db:"owner_id" json:"-"`
	AlbumID     string    `db:"album_id" json:"-"`
	ContentID   string    `db:"content_id" json:"content_id" binding:"required"`
	Name        string    `db:"name" json:"name" binding:"required"`
	Artist      string    `db:"artist" json:"artist"`
	TrackNumber int       `db:"track_number" json:"track_number"`
	Explicit    bool      `db:"explicit" json:"explicit"`
	CreatedAt   time.Time `db:"created_at" json:"-"`
}

// ApproveResult reports side effects of an approval that are not persisted on the request.
type ApproveResult struct {
	Request    *Request `json:"request"`
	SongsAdded int      `json:"songs_added"`
}
