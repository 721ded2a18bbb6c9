package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safetunes/internal/fuzzy"
	"safetunes/internal/lyrics"
	"safetunes/internal/models"
	"safetunes/internal/repository"
	"safetunes/internal/reviewer"
)

type fakeReviewer struct {
	songCalls  atomic.Int32
	albumCalls atomic.Int32
	recCalls   atomic.Int32
	srchCalls  atomic.Int32
	err        error
	lastLyrics string
	gate       chan struct{}
}

func (f *fakeReviewer) ReviewSong(_ context.Context, in reviewer.SongInput) (*models.SongReview, string, error) {
	f.songCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.lastLyrics = in.Lyrics
	if f.err != nil {
		return nil, "", f.err
	}
	return &models.SongReview{
		Summary:       "Gentle song about acceptance.",
		Concerns:      []models.Concern{},
		OverallRating: models.RatingClean,
	}, "fake", nil
}

func (f *fakeReviewer) ReviewAlbum(_ context.Context, in reviewer.AlbumInput) (*models.AlbumOverview, string, error) {
	f.albumCalls.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	return &models.AlbumOverview{
		Summary:        in.Album + " is a mellow record.",
		Recommendation: models.AlbumLikelySafe,
	}, "fake", nil
}

func (f *fakeReviewer) Recommend(_ context.Context, in reviewer.RecommendationInput) ([]models.Recommendation, string, error) {
	f.recCalls.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	return []models.Recommendation{{Track: "Here Comes the Sun", Artist: "The Beatles", Reason: "Upbeat"}}, "fake", nil
}

func (f *fakeReviewer) Search(_ context.Context, in reviewer.SearchInput) ([]models.SearchResult, string, error) {
	f.srchCalls.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	return []models.SearchResult{{Track: "Octopus's Garden", Artist: "The Beatles", Note: "Playful"}}, "fake", nil
}

type fakeFinder struct {
	calls atomic.Int32
	match *lyrics.Match
	err   error
}

func (f *fakeFinder) Find(_ context.Context, track, artist string) (*lyrics.Match, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.match, nil
}

func newTestService(t *testing.T, rev *fakeReviewer, finder *fakeFinder) (*Service, *repository.Store) {
	t.Helper()

	original := runAsync
	runAsync = func(_ *zap.Logger, _ string, fn func(ctx context.Context) error) {
		_ = fn(context.Background())
	}
	t.Cleanup(func() { runAsync = original })

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_time_format=sqlite", uuid.NewString())
	db, err := repository.NewSQLiteDB(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, zap.NewNop()))

	store := repository.NewStore(db, zap.NewNop())
	return NewService(store.Moderation, store.Queries, rev, finder, nil, zap.NewNop()), store
}

func TestGetOrCreateReview_ReviewsOnceThenServesCache(t *testing.T) {
	rev := &fakeReviewer{}
	svc, store := newTestService(t, rev, &fakeFinder{})
	ctx := context.Background()
	target := SongTarget{ContentID: "song-1", Track: "Let It Be", Artist: "The Beatles", Lyrics: "When I find myself in times of trouble"}

	first, err := svc.GetOrCreateReview(ctx, target)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, models.RatingClean, first.Review.OverallRating)

	second, err := svc.GetOrCreateReview(ctx, target)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Review.Summary, second.Review.Summary)
	assert.Equal(t, int32(1), rev.songCalls.Load())

	entry, err := store.Moderation.GetByContentID(ctx, models.ReviewSong, "song-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.TimesReused)
	assert.Equal(t, "fake", entry.Model)
}

func TestGetOrFetchLyrics_DecoratedArtistHitsExistingEntry(t *testing.T) {
	finder := &fakeFinder{}
	svc, _ := newTestService(t, &fakeReviewer{}, finder)
	ctx := context.Background()

	_, err := svc.SaveManualLyrics(ctx, "Yesterday", "The Beatles", "Yesterday, all my troubles seemed so far away")
	require.NoError(t, err)

	res, err := svc.GetOrFetchLyrics(ctx, "Yesterday", "The Beatles (Remastered)")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "Yesterday, all my troubles seemed so far away", res.Lyrics)
	assert.Equal(t, int32(0), finder.calls.Load())
}

func TestGetOrFetchLyrics_StoresRequestedAndCanonicalNames(t *testing.T) {
	finder := &fakeFinder{match: &lyrics.Match{TrackID: "1", Track: "Let It Be", Artist: "Beatles", Lyrics: "Mother Mary comes to me"}}
	svc, store := newTestService(t, &fakeReviewer{}, finder)
	ctx := context.Background()

	res, err := svc.GetOrFetchLyrics(ctx, "Let It Be - Remastered 2009", "The Beatles")
	require.NoError(t, err)
	assert.False(t, res.Cached)

	for _, key := range []string{
		fuzzy.CacheKey("Let It Be - Remastered 2009", "The Beatles"),
		fuzzy.CacheKey("Let It Be", "Beatles"),
	} {
		entry, err := store.Moderation.FindLyricsByKey(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, entry, key)
		assert.Equal(t, models.EntryLyricsOnly, entry.State)
		assert.False(t, entry.IsReview())
	}

	again, err := svc.GetOrFetchLyrics(ctx, "Let It Be", "Beatles")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int32(1), finder.calls.Load())
}

func TestGetOrFetchLyrics_ConcurrentLookupsFetchOnce(t *testing.T) {
	finder := &fakeFinder{match: &lyrics.Match{TrackID: "1", Track: "Hey Jude", Artist: "The Beatles", Lyrics: "Hey Jude, don't make it bad"}}
	svc, _ := newTestService(t, &fakeReviewer{}, finder)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.GetOrFetchLyrics(context.Background(), "Hey Jude", "The Beatles")
			assert.NoError(t, err)
			if assert.NotNil(t, res) {
				assert.Equal(t, "Hey Jude, don't make it bad", res.Lyrics)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), finder.calls.Load())
}

func TestGetOrCreateReview_LyricOnlyEntryIsNotAVerdict(t *testing.T) {
	rev := &fakeReviewer{}
	finder := &fakeFinder{match: &lyrics.Match{TrackID: "1", Track: "Let It Be", Artist: "The Beatles", Lyrics: "Whisper words of wisdom"}}
	svc, _ := newTestService(t, rev, finder)
	ctx := context.Background()

	_, err := svc.GetOrFetchLyrics(ctx, "Let It Be", "The Beatles")
	require.NoError(t, err)

	res, err := svc.GetOrCreateReview(ctx, SongTarget{ContentID: "song-7", Track: "Let It Be", Artist: "The Beatles"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(1), rev.songCalls.Load())
	assert.Equal(t, "Whisper words of wisdom", rev.lastLyrics)
	assert.Equal(t, int32(1), finder.calls.Load())
}

func TestGetOrCreateReview_MissingLyricsIsTerminal(t *testing.T) {
	rev := &fakeReviewer{}
	finder := &fakeFinder{err: models.NewError(models.ErrLyricsNotFound, "no lyrics")}
	svc, store := newTestService(t, rev, finder)
	ctx := context.Background()

	_, err := svc.GetOrCreateReview(ctx, SongTarget{ContentID: "song-2", Track: "Instrumental", Artist: "Nobody"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrLyricsNotFound))
	assert.Equal(t, int32(0), rev.songCalls.Load())

	entry, err := store.Moderation.GetByContentID(ctx, models.ReviewSong, "song-2")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGetOrCreateReview_ReviewerFailureIsNotCached(t *testing.T) {
	rev := &fakeReviewer{err: models.WrapError(models.ErrUpstreamFailure, reviewer.AnalysisUnavailable, errors.New("boom"))}
	svc, store := newTestService(t, rev, &fakeFinder{})
	ctx := context.Background()

	_, err := svc.GetOrCreateReview(ctx, SongTarget{ContentID: "song-3", Track: "Help!", Artist: "The Beatles", Lyrics: "Help me if you can"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpstreamFailure))
	assert.Equal(t, reviewer.AnalysisUnavailable, models.UserMessage(err, ""))

	entry, err := store.Moderation.GetByContentID(ctx, models.ReviewSong, "song-3")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestReviewAlbum_CachedByAlbumID(t *testing.T) {
	rev := &fakeReviewer{}
	svc, _ := newTestService(t, rev, &fakeFinder{})
	ctx := context.Background()
	target := AlbumTarget{
		AlbumID: "album-1",
		Album:   "Abbey Road",
		Artist:  "The Beatles",
		Tracks:  []reviewer.AlbumTrackInfo{{Name: "Come Together"}, {Name: "Something"}},
	}

	first, err := svc.ReviewAlbum(ctx, target)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, models.AlbumLikelySafe, first.Overview.Recommendation)

	second, err := svc.ReviewAlbum(ctx, target)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), rev.albumCalls.Load())

	_, err = svc.ReviewAlbum(ctx, AlbumTarget{Album: "Abbey Road", Artist: "The Beatles"})
	assert.True(t, errors.Is(err, models.ErrMissingReference))
}

func TestGetCacheStats(t *testing.T) {
	svc, _ := newTestService(t, &fakeReviewer{}, &fakeFinder{})
	ctx := context.Background()

	stats, err := svc.GetCacheStats(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, stats.HitRate)
	assert.Empty(t, stats.TopReused)

	popular := SongTarget{ContentID: "song-1", Track: "Let It Be", Artist: "The Beatles", Lyrics: "Let it be"}
	quiet := SongTarget{ContentID: "song-2", Track: "Yesterday", Artist: "The Beatles", Lyrics: "Yesterday"}
	for _, target := range []SongTarget{popular, quiet, popular, popular} {
		_, err := svc.GetOrCreateReview(ctx, target)
		require.NoError(t, err)
	}

	stats, err = svc.GetCacheStats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEntries)
	assert.Equal(t, int64(2), stats.TotalReuse)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	require.Len(t, stats.TopReused, 2)
	assert.Equal(t, "Let It Be", stats.TopReused[0].TrackName)
	assert.Equal(t, "Yesterday", stats.TopReused[1].TrackName)
}

func TestQueryKey_NormalizesParams(t *testing.T) {
	a, _, err := QueryKey(reviewer.RecommendationInput{Artists: []string{"The Beatles ", "ABBA"}, Genres: []string{"Pop"}, Limit: 5})
	require.NoError(t, err)
	b, _, err := QueryKey(reviewer.RecommendationInput{Artists: []string{"abba", "the beatles"}, Genres: []string{" pop"}, Limit: 5})
	require.NoError(t, err)
	c, _, err := QueryKey(reviewer.RecommendationInput{Artists: []string{"abba"}, Genres: []string{"pop"}, Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRecommend_ServesRepeatQueriesFromCache(t *testing.T) {
	rev := &fakeReviewer{}
	svc, _ := newTestService(t, rev, &fakeFinder{})
	ctx := context.Background()

	recs, cached, err := svc.Recommend(ctx, reviewer.RecommendationInput{Artists: []string{"The Beatles"}, Limit: 3})
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, recs, 1)

	recs, cached, err = svc.Recommend(ctx, reviewer.RecommendationInput{Artists: []string{"the beatles"}, Limit: 3})
	require.NoError(t, err)
	assert.True(t, cached)
	require.Len(t, recs, 1)
	assert.Equal(t, "Here Comes the Sun", recs[0].Track)
	assert.Equal(t, int32(1), rev.recCalls.Load())

	_, _, err = svc.Recommend(ctx, reviewer.RecommendationInput{})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestSaveManualLyrics(t *testing.T) {
	rev := &fakeReviewer{}
	finder := &fakeFinder{}
	svc, _ := newTestService(t, rev, finder)
	ctx := context.Background()

	_, err := svc.SaveManualLyrics(ctx, "Blackbird", "The Beatles", "   ")
	require.ErrorIs(t, err, models.ErrInvalidInput)

	first, err := svc.SaveManualLyrics(ctx, "Blackbird", "The Beatles", "Blackbird singing in the dead of night")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	again, err := svc.SaveManualLyrics(ctx, "Blackbird", "The Beatles", "Blackbird singing in the dead of night")
	require.NoError(t, err)
	assert.True(t, again.Cached)

	res, err := svc.GetOrCreateReview(ctx, SongTarget{ContentID: "song-bb", Track: "Blackbird", Artist: "The Beatles"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "Blackbird singing in the dead of night", rev.lastLyrics)
	assert.Equal(t, int32(0), finder.calls.Load())
}

func TestGetOrCreateReview_ReusesVerdictWithoutContentID(t *testing.T) {
	rev := &fakeReviewer{}
	svc, _ := newTestService(t, rev, &fakeFinder{})
	ctx := context.Background()
	lyricsText := "Here comes the sun, and I say it's all right"

	first, err := svc.GetOrCreateReview(ctx, SongTarget{Track: "Here Comes the Sun", Artist: "The Beatles", Lyrics: lyricsText})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.GetOrCreateReview(ctx, SongTarget{Track: "Here Comes The Sun", Artist: "The Beatles (Remastered)", Lyrics: lyricsText})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, int32(1), rev.songCalls.Load())
}

func TestGetOrCreateReview_CancelledCallerDoesNotFailOthers(t *testing.T) {
	rev := &fakeReviewer{gate: make(chan struct{})}
	svc, _ := newTestService(t, rev, &fakeFinder{})
	target := SongTarget{ContentID: "song-sun", Track: "Here Comes the Sun", Artist: "The Beatles", Lyrics: "Little darling"}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetOrCreateReview(ctx, target)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return rev.songCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		res *ReviewResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := svc.GetOrCreateReview(context.Background(), target)
		second <- outcome{res, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(rev.gate)
	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.res)
	assert.Equal(t, models.RatingClean, got.res.Review.OverallRating)
	assert.Equal(t, int32(1), rev.songCalls.Load())
}

func TestSearch_ServesRepeatQueriesFromCache(t *testing.T) {
	rev := &fakeReviewer{}
	svc, store := newTestService(t, rev, &fakeFinder{})
	ctx := context.Background()

	results, cached, err := svc.Search(ctx, reviewer.SearchInput{Query: "Songs about the sea", Limit: 5})
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, results, 1)

	results, cached, err = svc.Search(ctx, reviewer.SearchInput{Query: "  songs about the SEA ", Limit: 5})
	require.NoError(t, err)
	assert.True(t, cached)
	require.Len(t, results, 1)
	assert.Equal(t, "Octopus's Garden", results[0].Track)
	assert.Equal(t, int32(1), rev.srchCalls.Load())

	hash, _, err := QueryKey(reviewer.SearchInput{Query: "songs about the sea", Limit: 5})
	require.NoError(t, err)
	entry, err := store.Queries.Get(ctx, models.QuerySearch, hash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.TimesReused)

	_, _, err = svc.Search(ctx, reviewer.SearchInput{Query: "   "})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}
