package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AsgerHL/Bachelor-POC/pkg/model"
	"github.com/AsgerHL/Bachelor-POC/pkg/sourcemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinksSourceListsDiscoveredPages(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/other">other</a></body></html>`))
	}))
	defer ts.Close()

	parentHandle := &model.WebHandle{Base: model.NewBase(model.NewWebSource(ts.URL), "")}
	ls := NewLinksSource(parentHandle)
	sm := sourcemanager.New()
	t.Cleanup(func() { sm.Clear() })

	var found []string
	for h, err := range ls.Handles(context.Background(), sm) {
		require.NoError(t, err)
		wh, ok := h.(*model.WebHandle)
		require.True(t, ok)
		found = append(found, wh.PresentationURL())
	}
	require.Len(t, found, 1)
	assert.Equal(t, ts.URL+"/other", found[0])
}

func TestFromHandleDispatchesHTMLMime(t *testing.T) {
	parentHandle := &model.WebHandle{Base: model.NewBase(model.NewWebSource("http://example.com"), "")}
	src, ok := model.FromHandle(parentHandle, "text/html")
	require.True(t, ok)
	assert.Equal(t, "weblinks", src.Type())
}
