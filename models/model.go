// Package models - Class tables for detection models.
package models

import "fmt"

// Family is the labelling convention of a model's outputs.
type Family string

const (
	// FamilyTransformer is the thermal transformer inspection label set.
	FamilyTransformer Family = "transformer"
	// FamilyYOLO is the 80 COCO classes, no background.
	FamilyYOLO Family = "yolo"
	// FamilyCustom marks labels loaded from a names file or model metadata.
	FamilyCustom Family = "custom"
)

// TransformerClasses are the anomaly labels of the thermal inspection model.
var TransformerClasses = ClassTableFromNames(FamilyTransformer, []string{
	"Loose Joint Faulty",
	"Loose Joint Potentially Faulty",
	"Point Overload Faulty",
	"Point Overload Potentially Faulty",
	"Full Wire Overload (Potentially Faulty)",
})

// YOLOClasses is the 80-class COCO set used by stock YOLO exports.
var YOLOClasses = ClassTableFromNames(FamilyYOLO, []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
})

// BuiltinClasses returns the built-in table for a family.
func BuiltinClasses(family Family) (*ClassTable, error) {
	switch family {
	case FamilyTransformer:
		return TransformerClasses, nil
	case FamilyYOLO:
		return YOLOClasses, nil
	default:
		return nil, fmt.Errorf("no built-in classes for family %q", family)
	}
}

// ResolveClasses picks the class table for a run.
//
// A names file wins over the built-in set of the family.
//
// Arguments:
//   - family: Built-in family to fall back to.
//   - namesFile: Optional path to a YAML/JSON names file.
//
// Returns:
//   - *ClassTable: The selected table.
//   - error: Non-nil if the names file is unreadable or the family unknown.
func ResolveClasses(family Family, namesFile string) (*ClassTable, error) {
	if namesFile != "" {
		return LoadClassTable(namesFile)
	}
	return BuiltinClasses(family)
}
