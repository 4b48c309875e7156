package detections

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/tree-defect-detection-service/classes"
	"github.com/Tutortoise/tree-defect-detection-service/models"
)

func TestParse_ZeroCount(t *testing.T) {
	raw := &models.RawModelOutput{
		Boxes:   []float32{0.1, 0.2, 0.3, 0.4},
		Scores:  []float32{0.9},
		Classes: []int32{1},
		Count:   0,
	}

	dets, err := Parse(raw, classes.Default())
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestParse_SingleDetection(t *testing.T) {
	raw := &models.RawModelOutput{
		Boxes:   []float32{0.0, 0.0, 1.0, 1.0},
		Scores:  []float32{0.87},
		Classes: []int32{2},
		Count:   1,
	}

	dets, err := Parse(raw, classes.Default())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, models.Detection{
		ClassLabel: "batang_pecah",
		Score:      0.87,
		Box:        models.BoundingBox{Ymin: 0, Xmin: 0, Ymax: 1, Xmax: 1},
	}, dets[0])
}

func TestParse_KeepsOrderAndValues(t *testing.T) {
	raw := &models.RawModelOutput{
		Boxes: []float32{
			0.1, 0.2, 0.5, 0.6,
			0.05, 0.15, 0.95, 1.2,
		},
		Scores:  []float32{0.4, 0.9},
		Classes: []int32{7, 0},
		Count:   2,
	}

	dets, err := Parse(raw, classes.Default())
	require.NoError(t, err)
	require.Len(t, dets, 2)

	// Lower score first: the model order is kept.
	assert.Equal(t, "gerowong", dets[0].ClassLabel)
	assert.Equal(t, float32(0.4), dets[0].Score)
	assert.Equal(t, models.BoundingBox{Ymin: 0.1, Xmin: 0.2, Ymax: 0.5, Xmax: 0.6}, dets[0].Box)

	assert.Equal(t, "akar_Patah-mati", dets[1].ClassLabel)
	// Out of range coordinates are passed through untouched.
	assert.Equal(t, models.BoundingBox{Ymin: 0.05, Xmin: 0.15, Ymax: 0.95, Xmax: 1.2}, dets[1].Box)
}

func TestParse_IgnoresPadding(t *testing.T) {
	raw := &models.RawModelOutput{
		Boxes: []float32{
			0.1, 0.1, 0.2, 0.2,
			0.7, 0.7, 0.8, 0.8,
			0.3, 0.3, 0.4, 0.4,
		},
		Scores: []float32{0.5, 0.99, 0.98},
		// Index 99 would fail the class lookup if the padding were read.
		Classes: []int32{3, 99, 99},
		Count:   1,
	}

	dets, err := Parse(raw, classes.Default())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "brum akar atau batang", dets[0].ClassLabel)
	assert.Equal(t, models.BoundingBox{Ymin: 0.1, Xmin: 0.1, Ymax: 0.2, Xmax: 0.2}, dets[0].Box)
}

func TestParse_UnknownClassIndex(t *testing.T) {
	table := classes.New([]string{"a", "b"})

	for _, index := range []int32{2, -1} {
		raw := &models.RawModelOutput{
			Boxes:   []float32{0, 0, 1, 1},
			Scores:  []float32{0.5},
			Classes: []int32{index},
			Count:   1,
		}

		dets, err := Parse(raw, table)
		assert.Nil(t, dets)

		var unknown *UnknownClassIndexError
		require.True(t, errors.As(err, &unknown), "index %d", index)
		assert.Equal(t, int(index), unknown.Index)
		assert.Equal(t, 2, unknown.TableSize)
	}
}

func TestParse_Malformed(t *testing.T) {
	testCases := []struct {
		name string
		raw  models.RawModelOutput
	}{
		{
			name: "negative count",
			raw:  models.RawModelOutput{Count: -1},
		},
		{
			name: "short boxes",
			raw: models.RawModelOutput{
				Boxes:   []float32{0, 0, 1},
				Scores:  []float32{0.1},
				Classes: []int32{0},
				Count:   1,
			},
		},
		{
			name: "short scores",
			raw: models.RawModelOutput{
				Boxes:   []float32{0, 0, 1, 1, 0, 0, 1, 1},
				Scores:  []float32{0.1},
				Classes: []int32{0, 0},
				Count:   2,
			},
		},
		{
			name: "short classes",
			raw: models.RawModelOutput{
				Boxes:   []float32{0, 0, 1, 1},
				Scores:  []float32{0.1},
				Classes: nil,
				Count:   1,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(&tc.raw, classes.Default())
			var malformed *MalformedOutputError
			assert.True(t, errors.As(err, &malformed), "got %v", err)
		})
	}
}
