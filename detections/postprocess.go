package detections

import (
	"fmt"

	"github.com/Tutortoise/tree-defect-detection-service/classes"
	"github.com/Tutortoise/tree-defect-detection-service/models"
)

// Parse turns raw model output into detections, one per valid entry, in the
// order the model emitted them. The model is expected to have applied NMS, so
// nothing is sorted, merged or filtered here.
func Parse(raw *models.RawModelOutput, table classes.Table) ([]models.Detection, error) {
	k := raw.Count
	switch {
	case k < 0:
		return nil, &MalformedOutputError{Reason: fmt.Sprintf("negative detection count %d", k)}
	case len(raw.Boxes) < k*4:
		return nil, &MalformedOutputError{Reason: fmt.Sprintf("count %d needs %d box values, got %d", k, k*4, len(raw.Boxes))}
	case len(raw.Scores) < k:
		return nil, &MalformedOutputError{Reason: fmt.Sprintf("count %d exceeds %d scores", k, len(raw.Scores))}
	case len(raw.Classes) < k:
		return nil, &MalformedOutputError{Reason: fmt.Sprintf("count %d exceeds %d classes", k, len(raw.Classes))}
	}

	boxes := raw.Boxes[:k*4]
	scores := raw.Scores[:k]
	classIDs := raw.Classes[:k]

	detections := make([]models.Detection, 0, k)
	for i := 0; i < k; i++ {
		index := int(classIDs[i])
		label, ok := table.Label(index)
		if !ok {
			return nil, &UnknownClassIndexError{Index: index, TableSize: table.Len()}
		}

		b := boxes[i*4 : i*4+4]
		detections = append(detections, models.Detection{
			ClassLabel: label,
			Score:      scores[i],
			Box: models.BoundingBox{
				Ymin: b[0],
				Xmin: b[1],
				Ymax: b[2],
				Xmax: b[3],
			},
		})
	}

	return detections, nil
}
