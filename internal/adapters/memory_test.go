package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocs() []Document {
	return []Document{
		{FieldDocID: "a", FieldTitle: "Installing Fess on Docker", FieldURL: "https://x/fess-docker", FieldContent: "docker install steps"},
		{FieldDocID: "b", FieldTitle: "Crawler configuration", FieldURL: "https://x/crawler", FieldContent: "crawl settings"},
	}
}

func TestMemorySearchAdapter_Search(t *testing.T) {
	m := NewMemorySearchAdapter(seedDocs())
	hits, err := m.Search(context.Background(), "docker", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0][FieldDocID])
}

func TestMemorySearchAdapter_ExactURLQuery(t *testing.T) {
	m := NewMemorySearchAdapter(seedDocs())
	hits, err := m.Search(context.Background(), ExactURLQuery("https://x/crawler"), 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0][FieldDocID])
}

func TestMemorySearchAdapter_FetchByIds(t *testing.T) {
	m := NewMemorySearchAdapter(seedDocs())
	docs, err := m.FetchByIds(context.Background(), []string{"b", "a"}, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0][FieldDocID])
	assert.Equal(t, "a", docs[1][FieldDocID])
}

func TestMemorySearchAdapter_MaxDocsCap(t *testing.T) {
	m := NewMemorySearchAdapter(seedDocs())
	hits, err := m.Search(context.Background(), "", 1, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
