package sessionstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkivell/mozcarve/pkg/mozlz4"
)

const sampleDoc = `{
	"version": ["sessionrestore", 1],
	"windows": [
		{
			"tabs": [
				{
					"entries": [{"url": "https://shop.example.com/cart"}],
					"storage": {
						"https://shop.example.com": {
							"cart-id": "abc123",
							"theme": "dark"
						}
					}
				},
				{"entries": [{"url": "about:blank"}]}
			],
			"_closedTabs": [
				{
					"title": "Webmail",
					"state": {
						"storage": {
							"https://mail.example.com": {"draft": "hello world"}
						}
					}
				}
			]
		}
	]
}`

func TestParseRecords(t *testing.T) {
	records, err := ParseRecords([]byte(sampleDoc))
	require.NoError(t, err)

	assert.ElementsMatch(t, []Record{
		{Host: "https://shop.example.com", Key: "cart-id", Value: "abc123"},
		{Host: "https://shop.example.com", Key: "theme", Value: "dark"},
		{Host: "https://mail.example.com", Key: "draft", Value: "hello world", ClosedTab: true},
	}, records)
}

func TestParseRecords_NoStorage(t *testing.T) {
	records, err := ParseRecords([]byte(`{"windows": [{"tabs": [{"entries": []}]}]}`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseRecords_EmptyDocument(t *testing.T) {
	records, err := ParseRecords([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseRecords_Malformed(t *testing.T) {
	_, err := ParseRecords([]byte(`{"windows": [`))
	assert.Error(t, err)
}

func TestParseFile(t *testing.T) {
	compressed, err := mozlz4.Compress([]byte(sampleDoc))
	require.NoError(t, err)

	records, flag, err := ParseFile(compressed)
	require.NoError(t, err)
	assert.Equal(t, mozlz4.Complete, flag)
	assert.Len(t, records, 3)
}

func TestParseFile_BadMagic(t *testing.T) {
	_, _, err := ParseFile([]byte("not a jsonlz4 file"))
	assert.ErrorIs(t, err, mozlz4.ErrBadMagic)
}
