package daemon

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePoller serves scripted batches and records the offsets it was asked
// for.
type fakePoller struct {
	batches [][]tgbotapi.Update
	offsets []int
	err     error
}

func (f *fakePoller) GetUpdates(offset, timeoutSeconds int) ([]tgbotapi.Update, error) {
	f.offsets = append(f.offsets, offset)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

// recordingHandler records handled ids and can observe the cursor at
// handling time.
type recordingHandler struct {
	handled   []int
	cursorAt  []int
	cursor    CursorStore
	err       error
	panicWith any
}

func (r *recordingHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	r.handled = append(r.handled, update.UpdateID)
	if r.cursor != nil {
		offset, _ := r.cursor.Get()
		r.cursorAt = append(r.cursorAt, offset)
	}
	return r.err
}

func msgUpdate(id int) tgbotapi.Update {
	return tgbotapi.Update{UpdateID: id}
}

func newTestDispatcher(poller Poller, handler UpdateHandler, cursor CursorStore) *Dispatcher {
	return NewDispatcher(poller, handler, cursor, 30, 1, zerolog.Nop(), nil)
}

func TestPollOnceAdvancesCursorBeforeHandling(t *testing.T) {
	cursor := NewMemoryCursor()
	poller := &fakePoller{batches: [][]tgbotapi.Update{{msgUpdate(5), msgUpdate(6)}}}
	handler := &recordingHandler{cursor: cursor}

	d := newTestDispatcher(poller, handler, cursor)
	require.NoError(t, d.pollOnce(context.Background()))

	assert.Equal(t, []int{5, 6}, handler.handled)
	// at-least-once: by the time each handler ran, the cursor had already
	// moved past its update
	assert.Equal(t, []int{6, 7}, handler.cursorAt)

	offset, _ := cursor.Get()
	assert.Equal(t, 7, offset)
}

func TestPollOncePassesCursorAsOffset(t *testing.T) {
	cursor := NewMemoryCursor()
	require.NoError(t, cursor.Set(100))
	poller := &fakePoller{}

	d := newTestDispatcher(poller, &recordingHandler{}, cursor)
	require.NoError(t, d.pollOnce(context.Background()))

	assert.Equal(t, []int{100}, poller.offsets)
}

func TestPollOnceProcessesAscending(t *testing.T) {
	cursor := NewMemoryCursor()
	poller := &fakePoller{batches: [][]tgbotapi.Update{{msgUpdate(9), msgUpdate(7), msgUpdate(8)}}}
	handler := &recordingHandler{}

	d := newTestDispatcher(poller, handler, cursor)
	require.NoError(t, d.pollOnce(context.Background()))

	assert.Equal(t, []int{7, 8, 9}, handler.handled)
}

func TestHandlerErrorDoesNotStopBatch(t *testing.T) {
	cursor := NewMemoryCursor()
	poller := &fakePoller{batches: [][]tgbotapi.Update{{msgUpdate(1), msgUpdate(2)}}}
	handler := &recordingHandler{err: errors.New("boom")}

	d := newTestDispatcher(poller, handler, cursor)
	require.NoError(t, d.pollOnce(context.Background()))

	// both updates handled, cursor fully advanced despite the errors
	assert.Equal(t, []int{1, 2}, handler.handled)
	offset, _ := cursor.Get()
	assert.Equal(t, 3, offset)
}

func TestPollOnceRecoversPanics(t *testing.T) {
	cursor := NewMemoryCursor()
	poller := &fakePoller{batches: [][]tgbotapi.Update{{msgUpdate(1)}}}
	handler := &recordingHandler{panicWith: "kaboom"}

	d := newTestDispatcher(poller, handler, cursor)
	err := d.pollOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	// the cursor had already advanced: the panicking update is lost, not
	// redelivered
	offset, _ := cursor.Get()
	assert.Equal(t, 2, offset)
}

func TestPollOncePollFailure(t *testing.T) {
	poller := &fakePoller{err: errors.New("network down")}
	d := newTestDispatcher(poller, &recordingHandler{}, NewMemoryCursor())

	assert.Error(t, d.pollOnce(context.Background()))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDispatcher(&fakePoller{}, &recordingHandler{}, NewMemoryCursor())
	err := d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDurableCursorResumesAcrossDispatchers(t *testing.T) {
	path := t.TempDir() + "/cursor"

	first := &fakePoller{batches: [][]tgbotapi.Update{{msgUpdate(41)}}}
	d1 := newTestDispatcher(first, &recordingHandler{}, NewFileCursor(path))
	require.NoError(t, d1.pollOnce(context.Background()))

	second := &fakePoller{}
	d2 := newTestDispatcher(second, &recordingHandler{}, NewFileCursor(path))
	require.NoError(t, d2.pollOnce(context.Background()))

	// the replacement process polled from past the handled update
	assert.Equal(t, []int{42}, second.offsets)
}
