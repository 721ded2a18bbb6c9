package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safetunes/internal/models"
	"safetunes/internal/notify"
	"safetunes/internal/repository"
)

const owner = "account-1"

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) byChannel(ch notify.Channel) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.sent {
		if n.Channel == ch {
			out = append(out, n)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *repository.Store, *recordingNotifier) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_time_format=sqlite", uuid.NewString())
	db, err := repository.NewSQLiteDB(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, zap.NewNop()))

	store := repository.NewStore(db, zap.NewNop())
	notifier := &recordingNotifier{}
	return NewEngine(store, notifier, nil, zap.NewNop()), store, notifier
}

func songInput(child, contentID, name string) models.CreateRequestInput {
	return models.CreateRequestInput{
		Kind:        models.KindSong,
		RequesterID: child,
		OwnerID:     owner,
		ContentID:   contentID,
		Name:        name,
		Artist:      "The Beatles",
	}
}

func albumInput(child, albumID string) models.CreateRequestInput {
	return models.CreateRequestInput{
		Kind:        models.KindAlbum,
		RequesterID: child,
		OwnerID:     owner,
		ContentID:   albumID,
		Name:        "Let It Be",
		Artist:      "The Beatles",
	}
}

var letItBeTracks = []models.AlbumTrack{
	{ContentID: "t-1", Name: "Two of Us"},
	{ContentID: "t-2", Name: "Dig a Pony"},
	{ContentID: "t-3", Name: "Let It Be"},
}

func songs(items []*models.ApprovedContent) []*models.ApprovedContent {
	var out []*models.ApprovedContent
	for _, it := range items {
		if it.Kind == models.KindSong {
			out = append(out, it)
		}
	}
	return out
}

func albums(items []*models.ApprovedContent) []*models.ApprovedContent {
	var out []*models.ApprovedContent
	for _, it := range items {
		if it.Kind == models.KindAlbum {
			out = append(out, it)
		}
	}
	return out
}

func TestCreate_IsIdempotentPerTarget(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	ctx := context.Background()

	first, created, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.StatusPending, first.Status)

	second, created, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	requests, err := engine.ListForOwner(ctx, owner, "")
	require.NoError(t, err)
	assert.Len(t, requests, 1)

	assert.Len(t, notifier.byChannel(notify.ChannelPush), 1)
	assert.Len(t, notifier.byChannel(notify.ChannelMobile), 1)
	assert.Equal(t, first.ID, notifier.byChannel(notify.ChannelPush)[0].RequestID)

	batch, err := store.Batches.ListUnsent(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, first.ID, batch[0].RequestID)
}

func TestCreate_ConcurrentCallsShareOneRequest(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
			if assert.NoError(t, err) {
				ids[i] = req.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	requests, err := engine.ListForOwner(ctx, owner, models.StatusPending)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestCreate_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	in := songInput("kid-1", "", "Let It Be")
	_, _, err := engine.Create(context.Background(), in)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	in = songInput("kid-1", "song-1", "   ")
	_, _, err = engine.Create(context.Background(), in)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestSongApproveThenUndo(t *testing.T) {
	engine, _, notifier := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)

	res, err := engine.Approve(ctx, owner, req.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, res.Request.Status)
	assert.NotNil(t, res.Request.ReviewedAt)
	assert.Equal(t, 1, res.SongsAdded)

	library, err := engine.ListApproved(ctx, owner, "kid-1")
	require.NoError(t, err)
	require.Len(t, library, 1)
	assert.Equal(t, "song-1", library[0].ContentID)
	assert.Equal(t, "kid-1", library[0].ChildID)
	assert.Len(t, notifier.byChannel(notify.ChannelKid), 1)

	reverted, err := engine.Undo(ctx, owner, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reverted.Status)
	assert.Nil(t, reverted.ReviewedAt)

	library, err = engine.ListApproved(ctx, owner, "kid-1")
	require.NoError(t, err)
	assert.Empty(t, library)

	stored, err := engine.Get(ctx, owner, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Nil(t, stored.ReviewedAt)

	_, err = engine.Undo(ctx, owner, req.ID)
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestUndo_RemovesOnlyItsOwnRows(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	a, _, err := engine.Create(ctx, songInput("kid-1", "song-a", "Help!"))
	require.NoError(t, err)
	b, _, err := engine.Create(ctx, songInput("kid-1", "song-b", "Yesterday"))
	require.NoError(t, err)
	other, _, err := engine.Create(ctx, songInput("kid-2", "song-a", "Help!"))
	require.NoError(t, err)

	for _, id := range []string{a.ID, b.ID, other.ID} {
		_, err := engine.Approve(ctx, owner, id, nil)
		require.NoError(t, err)
	}

	_, err = engine.Undo(ctx, owner, a.ID)
	require.NoError(t, err)

	kid1, err := engine.ListApproved(ctx, owner, "kid-1")
	require.NoError(t, err)
	require.Len(t, kid1, 1)
	assert.Equal(t, "song-b", kid1[0].ContentID)

	kid2, err := engine.ListApproved(ctx, owner, "kid-2")
	require.NoError(t, err)
	require.Len(t, kid2, 1)
	assert.Equal(t, "song-a", kid2[0].ContentID)

	album, _, err := engine.Create(ctx, albumInput("kid-1", "album-help"))
	require.NoError(t, err)
	res, err := engine.Approve(ctx, owner, album.ID, []models.AlbumTrack{
		{ContentID: "song-b", Name: "Yesterday"},
		{ContentID: "song-c", Name: "Ticket to Ride"},
		{ContentID: "song-d", Name: "Help!"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SongsAdded)

	_, err = engine.Undo(ctx, owner, album.ID)
	require.NoError(t, err)

	kid1, err = engine.ListApproved(ctx, owner, "kid-1")
	require.NoError(t, err)
	require.Len(t, kid1, 1)
	assert.Equal(t, "song-b", kid1[0].ContentID)
	assert.Equal(t, b.ID, kid1[0].SourceRequestID)
}

func TestAlbumApproval_NeverDuplicatesRows(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, albumInput("kid-1", "album-1"))
	require.NoError(t, err)

	res, err := engine.Approve(ctx, owner, req.ID, letItBeTracks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SongsAdded)

	_, err = engine.Approve(ctx, owner, req.ID, letItBeTracks)
	assert.True(t, errors.Is(err, models.ErrConflict))

	_, err = engine.Undo(ctx, owner, req.ID)
	require.NoError(t, err)

	all, err := engine.ListApproved(ctx, owner, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	// re-approval without a track list falls back to the stored one
	res, err = engine.Approve(ctx, owner, req.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SongsAdded)

	sibling, _, err := engine.Create(ctx, albumInput("kid-2", "album-1"))
	require.NoError(t, err)
	res, err = engine.Approve(ctx, owner, sibling.ID, letItBeTracks)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SongsAdded)

	all, err = engine.ListApproved(ctx, owner, "")
	require.NoError(t, err)
	assert.Len(t, albums(all), 1)

	kid1, err := engine.ListApproved(ctx, owner, "kid-1")
	require.NoError(t, err)
	seen := map[string]int{}
	for _, it := range songs(kid1) {
		seen[it.ContentID]++
	}
	assert.Equal(t, map[string]int{"t-1": 1, "t-2": 1, "t-3": 1}, seen)

	stored, err := store.Approved.ListAlbumTracks(ctx, owner, "album-1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestDenyUndoDenyAndApproveDenied(t *testing.T) {
	engine, _, notifier := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Helter Skelter"))
	require.NoError(t, err)

	denied, err := engine.Deny(ctx, owner, req.ID, "Too loud for bedtime")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDenied, denied.Status)
	require.NotNil(t, denied.DenialReason)
	assert.Equal(t, "Too loud for bedtime", *denied.DenialReason)
	kid := notifier.byChannel(notify.ChannelKid)
	require.Len(t, kid, 1)
	assert.Equal(t, "kid-1", kid[0].Recipient)
	assert.Contains(t, kid[0].Body, "Too loud for bedtime")

	reopened, err := engine.UndoDeny(ctx, owner, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reopened.Status)
	assert.Nil(t, reopened.DenialReason)
	assert.Nil(t, reopened.ReviewedAt)

	_, err = engine.Deny(ctx, owner, req.ID, "")
	require.NoError(t, err)

	res, err := engine.ApproveDenied(ctx, owner, req.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, res.Request.Status)
	assert.Nil(t, res.Request.DenialReason)

	library, err := engine.ListApproved(ctx, owner, "kid-1")
	require.NoError(t, err)
	assert.Len(t, library, 1)

	_, err = engine.ApproveDenied(ctx, owner, req.ID, nil)
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestApproveDenied_MissingCatalogID(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, albumInput("kid-1", ""))
	require.NoError(t, err)
	_, err = engine.Deny(ctx, owner, req.ID, "")
	require.NoError(t, err)

	_, err = engine.ApproveDenied(ctx, owner, req.ID, letItBeTracks)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrMissingReference))
	assert.Equal(t, "Cannot approve album — missing catalog ID. Please re-request.", models.UserMessage(err, ""))

	stored, err := engine.Get(ctx, owner, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDenied, stored.Status)

	all, err := engine.ListApproved(ctx, owner, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConcurrentResolution_OneWinner(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := engine.Approve(ctx, owner, req.ID, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, models.ErrConflict) {
				conflicts++
			}
		}()
		go func() {
			defer wg.Done()
			_, err := engine.Deny(ctx, owner, req.ID, "no")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, models.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)

	library, err := engine.ListApproved(ctx, owner, "kid-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(library), 1)
}

func TestPartiallyApprove(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, albumInput("kid-1", "album-1"))
	require.NoError(t, err)

	resolved, err := engine.PartiallyApprove(ctx, owner, req.ID, "Only the clean tracks")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyApproved, resolved.Status)
	assert.False(t, resolved.ViewedByKid)
	assert.NotNil(t, resolved.ReviewedAt)
	require.NotNil(t, resolved.PartialApprovalNote)

	_, err = engine.Approve(ctx, owner, req.ID, nil)
	assert.True(t, errors.Is(err, models.ErrConflict))

	err = engine.MarkViewed(ctx, owner, "kid-2", req.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, engine.MarkViewed(ctx, owner, "kid-1", req.ID))
	stored, err := engine.Get(ctx, owner, req.ID)
	require.NoError(t, err)
	assert.True(t, stored.ViewedByKid)
	assert.Equal(t, models.StatusPartiallyApproved, stored.Status)
}

func TestOwnershipIsEnforced(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)

	_, err = engine.Get(ctx, "someone-else", req.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = engine.Approve(ctx, "someone-else", req.ID, nil)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = engine.Deny(ctx, owner, uuid.NewString(), "")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	mine, err := engine.ListForChild(ctx, owner, "kid-1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := engine.ListForChild(ctx, "someone-else", "kid-1")
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestUndo_BlockedByNewerPendingRequest(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)
	_, err = engine.Deny(ctx, owner, req.ID, "")
	require.NoError(t, err)

	again, created, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, req.ID, again.ID)

	_, err = engine.UndoDeny(ctx, owner, req.ID)
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestSetHideArtwork(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	req, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)
	_, err = engine.Approve(ctx, owner, req.ID, nil)
	require.NoError(t, err)

	library, err := engine.ListApproved(ctx, owner, "kid-1")
	require.NoError(t, err)
	require.Len(t, library, 1)

	item, err := engine.SetHideArtwork(ctx, owner, library[0].ID, true)
	require.NoError(t, err)
	assert.True(t, item.HideArtwork)

	_, err = engine.SetHideArtwork(ctx, "someone-else", library[0].ID, true)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPurgeResolved(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	pending, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)
	old, _, err := engine.Create(ctx, songInput("kid-1", "song-2", "Yesterday"))
	require.NoError(t, err)
	_, err = engine.Deny(ctx, owner, old.ID, "")
	require.NoError(t, err)

	engine.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	n, err := engine.PurgeResolved(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = engine.Get(ctx, owner, old.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = engine.Get(ctx, owner, pending.ID)
	assert.NoError(t, err)

	_, err = engine.PurgeResolved(ctx, 0)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestReapprovalNotifiesChildAgain(t *testing.T) {
	engine, _, notifier := newTestEngine(t)
	ctx := context.Background()

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	req, _, err := engine.Create(ctx, songInput("kid-1", "song-1", "Let It Be"))
	require.NoError(t, err)

	_, err = engine.Approve(ctx, owner, req.ID, nil)
	require.NoError(t, err)
	_, err = engine.Undo(ctx, owner, req.ID)
	require.NoError(t, err)
	_, err = engine.Approve(ctx, owner, req.ID, nil)
	require.NoError(t, err)

	kid := notifier.byChannel(notify.ChannelKid)
	require.Len(t, kid, 2)
	assert.NotEqual(t, kid[0].Tag, kid[1].Tag)
}
