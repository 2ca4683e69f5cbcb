package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSighting(t *testing.T) {
	ev, err := decodeSighting([]byte(`{
		"sighting_id": "6f1c1c2e-8a43-4a8e-9d59-0a7a3c9b2f10",
		"user_id": "0b6f5c64-3c44-4f5a-a0b6-9f7d2c1e4a11",
		"species_name": "Procyon lotor",
		"image_filename": "image-1700000000123.jpg",
		"latitude": 512.5,
		"longitude": 1024
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Procyon lotor", ev.SpeciesName)
	assert.Equal(t, "6f1c1c2e-8a43-4a8e-9d59-0a7a3c9b2f10", ev.SightingID.String())
	require.NotNil(t, ev.Latitude)
	assert.Equal(t, 512.5, *ev.Latitude)

	_, err = decodeSighting([]byte(`{"species_name": "Procyon lotor"}`))
	assert.Error(t, err)

	_, err = decodeSighting([]byte(`not json`))
	assert.Error(t, err)
}
