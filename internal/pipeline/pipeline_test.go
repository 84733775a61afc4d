package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/eventscout/internal/extraction"
	"example.com/eventscout/internal/metrics"
	"example.com/eventscout/internal/models"
	"example.com/eventscout/internal/tracing"
)

// Mock mail source for testing
type MockSource struct {
	mock.Mock
}

func (m *MockSource) SearchUnread(ctx context.Context, query string, max int) ([]models.CandidateMessage, error) {
	args := m.Called(ctx, query, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CandidateMessage), args.Error(1)
}

func (m *MockSource) MarkRead(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

// Mock extraction service for testing
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, subject, body string) extraction.Outcome {
	args := m.Called(ctx, subject, body)
	return args.Get(0).(extraction.Outcome)
}

// Mock event store for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) ReadAll(ctx context.Context) ([]models.Event, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *MockStore) Append(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// Mock run locker for testing
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) AcquireRunLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) ReleaseRunLock(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func newTestPipeline(source *MockSource, extractor *MockExtractor, store *MockStore, locker Locker) *Pipeline {
	return New(
		source,
		extractor,
		store,
		locker,
		nil,
		nil,
		metrics.NewMetrics(),
		&tracing.NewRelicTracer{},
		Options{SearchQuery: "is:unread", BatchSize: 10},
	)
}

func message(id, subject string) models.CandidateMessage {
	return models.CandidateMessage{ID: id, Subject: subject, Body: "body of " + subject, Unread: true}
}

func extracted(title, date string) extraction.Outcome {
	return extraction.Outcome{
		Status: extraction.StatusExtracted,
		Event:  &models.ExtractedEvent{Title: title, Date: date, Link: "https://example.com"},
	}
}

func TestRunNoUnreadMessagesIsNoOp(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{}, nil)

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.NoError(t, err)
	require.Zero(t, summary.Appended)
	// The ledger snapshot is never taken and nothing is written
	store.AssertNotCalled(t, "ReadAll", mock.Anything)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	source.AssertExpectations(t)
}

func TestRunAppendsNewEventToEmptyStore(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	msg := message("m1", "CFP: Talk A")
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{msg}, nil)
	store.On("ReadAll", mock.Anything).Return([]models.Event{}, nil)
	extractor.On("Extract", mock.Anything, msg.Subject, msg.Body).Return(extracted("Talk A", "2025-05-01"))
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.Event")).Return(nil)
	source.On("MarkRead", mock.Anything, "m1").Return(nil)

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, summary.Appended)

	appended := store.Calls[1].Arguments.Get(1).(*models.Event)
	require.Equal(t, "Talk A", appended.Title)
	require.Equal(t, "2025-05-01", appended.Date)
	require.Equal(t, "CFP: Talk A", appended.OriginalSubject)
	require.Equal(t, models.StatusPending, appended.Status)
	source.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRunDeduplicatesAgainstStoreAtDayPrecision(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	msg := message("m1", "Talk A announcement")
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{msg}, nil)
	store.On("ReadAll", mock.Anything).Return([]models.Event{
		{Title: "Talk A", Date: "2025-05-01"},
	}, nil)
	// The candidate carries a full timestamp; it must still match the stored day
	extractor.On("Extract", mock.Anything, msg.Subject, msg.Body).Return(extracted("Talk A", "2025-05-01T00:00:00Z"))
	source.On("MarkRead", mock.Anything, "m1").Return(nil)

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.NoError(t, err)
	require.Zero(t, summary.Appended)
	require.Equal(t, 1, summary.Duplicates)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	source.AssertExpectations(t)
}

func TestRunDeduplicatesWithinBatch(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	first := message("m1", "Talk A")
	second := message("m2", "Fwd: Talk A")
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{first, second}, nil)
	store.On("ReadAll", mock.Anything).Return([]models.Event{}, nil)
	extractor.On("Extract", mock.Anything, first.Subject, first.Body).Return(extracted("Talk A", "2025-05-01"))
	extractor.On("Extract", mock.Anything, second.Subject, second.Body).Return(extracted("Talk A", "2025-05-01"))
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.Event")).Return(nil).Once()
	source.On("MarkRead", mock.Anything, "m1").Return(nil)
	source.On("MarkRead", mock.Anything, "m2").Return(nil)

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, summary.Appended)
	require.Equal(t, 1, summary.Duplicates)
	store.AssertExpectations(t)
	source.AssertExpectations(t)
}

func TestRunMarksNonEventReadWithoutAppending(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	msg := message("m1", "Weekly newsletter")
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{msg}, nil)
	store.On("ReadAll", mock.Anything).Return([]models.Event{}, nil)
	extractor.On("Extract", mock.Anything, msg.Subject, msg.Body).Return(extraction.Outcome{Status: extraction.StatusNoEvent})
	source.On("MarkRead", mock.Anything, "m1").Return(nil)

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.NoError(t, err)
	require.Zero(t, summary.Appended)
	require.Equal(t, 1, summary.NoEvent)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	source.AssertExpectations(t)
}

func TestRunContinuesPastExtractionFailure(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	failing := message("m1", "Broken")
	fine := message("m2", "Talk B")
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{failing, fine}, nil)
	store.On("ReadAll", mock.Anything).Return([]models.Event{}, nil)
	extractor.On("Extract", mock.Anything, failing.Subject, failing.Body).Return(extraction.Outcome{
		Status: extraction.StatusFailed,
		Err:    errors.New("model returned status 503"),
	})
	extractor.On("Extract", mock.Anything, fine.Subject, fine.Body).Return(extracted("Talk B", "2025-06-01"))
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.Event")).Return(nil).Once()
	source.On("MarkRead", mock.Anything, "m2").Return(nil)

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, summary.Appended)
	require.Equal(t, 1, summary.Deferred)
	// The failed message stays unread for a retry on the next run
	source.AssertNotCalled(t, "MarkRead", mock.Anything, "m1")
	store.AssertExpectations(t)
}

func TestRunRejectsUnparseableExtractedDate(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	msg := message("m1", "Talk with vague date")
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{msg}, nil)
	store.On("ReadAll", mock.Anything).Return([]models.Event{}, nil)
	extractor.On("Extract", mock.Anything, msg.Subject, msg.Body).Return(extracted("Talk C", "sometime next spring"))

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.NoError(t, err)
	require.Zero(t, summary.Appended)
	require.Equal(t, 1, summary.Rejected)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	source.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
}

func TestRunSkipsMessagesNoLongerUnread(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	stale := models.CandidateMessage{ID: "m1", Subject: "Already handled", Unread: false}
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{stale}, nil)
	store.On("ReadAll", mock.Anything).Return([]models.Event{}, nil)

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.NoError(t, err)
	require.Zero(t, summary.Appended)
	extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunAbortsWhenSourceUnavailable(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return(nil, errors.New("gateway unreachable"))

	_, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	require.Error(t, err)
	store.AssertNotCalled(t, "ReadAll", mock.Anything)
	store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	source.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
}

func TestRunKeepsAppendWhenMarkReadFails(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	msg := message("m1", "Talk A")
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{msg}, nil)
	store.On("ReadAll", mock.Anything).Return([]models.Event{}, nil)
	extractor.On("Extract", mock.Anything, msg.Subject, msg.Body).Return(extracted("Talk A", "2025-05-01"))
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.Event")).Return(nil)
	source.On("MarkRead", mock.Anything, "m1").Return(errors.New("gateway timeout"))

	summary, err := newTestPipeline(source, extractor, store, nil).Run(context.Background())

	// The run keeps the appended row and finishes cleanly
	require.NoError(t, err)
	require.Equal(t, 1, summary.Appended)
	store.AssertExpectations(t)
	source.AssertExpectations(t)
}

func TestRunSkipsWhenLockHeldElsewhere(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)
	locker := new(MockLocker)

	locker.On("AcquireRunLock", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	summary, err := newTestPipeline(source, extractor, store, locker).Run(context.Background())

	require.NoError(t, err)
	require.True(t, summary.SkippedLocked)
	source.AssertNotCalled(t, "SearchUnread", mock.Anything, mock.Anything, mock.Anything)
	locker.AssertNotCalled(t, "ReleaseRunLock", mock.Anything, mock.Anything)
}

func TestRunReleasesLockAfterRun(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)
	locker := new(MockLocker)

	locker.On("AcquireRunLock", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	locker.On("ReleaseRunLock", mock.Anything, mock.Anything).Return(nil)
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{}, nil)

	_, err := newTestPipeline(source, extractor, store, locker).Run(context.Background())

	require.NoError(t, err)
	locker.AssertExpectations(t)
}

func TestSecondRunWithNoSourceChangesAppendsNothing(t *testing.T) {
	source := new(MockSource)
	extractor := new(MockExtractor)
	store := new(MockStore)

	// First run: one new event
	msg := message("m1", "Talk A")
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{msg}, nil).Once()
	store.On("ReadAll", mock.Anything).Return([]models.Event{}, nil).Once()
	extractor.On("Extract", mock.Anything, msg.Subject, msg.Body).Return(extracted("Talk A", "2025-05-01"))
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.Event")).Return(nil).Once()
	source.On("MarkRead", mock.Anything, "m1").Return(nil)

	p := newTestPipeline(source, extractor, store, nil)
	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Appended)

	// Second run: the message is now read, the search finds nothing
	source.On("SearchUnread", mock.Anything, "is:unread", 10).Return([]models.CandidateMessage{}, nil).Once()

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Appended)
	store.AssertNumberOfCalls(t, "Append", 1)
}
