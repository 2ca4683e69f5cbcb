package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "sightings/image-1700000000123.jpg", ArchiveKey("image-1700000000123.jpg"))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\% \_wild\\`, escapeLike(`100% _wild\`))
	assert.Equal(t, "Bufo bufo", escapeLike("Bufo bufo"))
}
