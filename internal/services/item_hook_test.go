package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/extractocr/internal/config"
	"github.com/Lllllllleong/extractocr/internal/models"
)

type recordingDispatcher struct {
	payloads []any
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, payload any) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.payloads = append(d.payloads, payload)
	return "projects/p/locations/l/workflows/w/executions/1", nil
}

func TestOnItemSavedDispatchesMissingRun(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(9)
	f.addPdf(9, "report.pdf", textPdf)
	d := &recordingDispatcher{}
	hook := NewItemHookFunction(f.settings, f.store, f.persister(), d)

	jobID, err := hook.OnItemSaved(f.ctx, models.ItemEvent{ItemID: 9, Action: "update"})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	require.Len(t, d.payloads, 1)
	req, ok := d.payloads[0].(models.ExtractOcrRequest)
	require.True(t, ok)
	assert.Equal(t, models.ExtractOcrRequest{JobID: jobID, Mode: ModeMissing, ItemID: 9, Manual: true}, req)
}

func TestOnItemSavedNothingToDo(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(1)
	f.addImage(1, models.Media{Source: "p1.jpg", StorageID: "img1", Extension: "jpg", MediaType: "image/jpeg"})
	f.addItem(2)
	f.addPdf(2, "report.pdf", textPdf)
	f.run(models.ExtractOcrRequest{ItemID: 2})

	d := &recordingDispatcher{}
	hook := NewItemHookFunction(f.settings, f.store, f.persister(), d)
	for _, id := range []int{1, 2} {
		jobID, err := hook.OnItemSaved(f.ctx, models.ItemEvent{ItemID: id, Action: "create"})
		require.NoError(t, err)
		assert.Empty(t, jobID)
	}
	assert.Empty(t, d.payloads)
}

func TestOnItemSavedErrors(t *testing.T) {
	f := newFixture(t, config.FormatPdf2xml)
	f.addItem(1)
	f.addPdf(1, "report.pdf", textPdf)
	d := &recordingDispatcher{err: errors.New("quota")}
	hook := NewItemHookFunction(f.settings, f.store, f.persister(), d)

	_, err := hook.OnItemSaved(f.ctx, models.ItemEvent{ItemID: 1})
	assert.ErrorContains(t, err, "quota")

	_, err = hook.OnItemSaved(f.ctx, models.ItemEvent{})
	assert.Error(t, err)
}
