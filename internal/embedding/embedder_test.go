package embedding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsWrongDimension(t *testing.T) {
	_, err := New(Config{Source: SourceRemote, Dimensions: 768})
	require.Error(t, err)
}

func TestNewRejectsUnknownSource(t *testing.T) {
	_, err := New(Config{Source: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNewDefaultsDimensions(t *testing.T) {
	e, err := New(Config{Source: SourceRemote, ModelName: "text-embedding-3-large"})
	require.NoError(t, err)
	require.Equal(t, Dimensions, e.Dimensions())
}

func TestValidateTextRejectsEmpty(t *testing.T) {
	require.Error(t, validateText("   "))
	require.NoError(t, validateText("hello"))
}

func TestValidateVectorRejectsWrongWidth(t *testing.T) {
	require.Error(t, validateVector(make([]float32, 10)))
	require.NoError(t, validateVector(make([]float32, Dimensions)))
}
