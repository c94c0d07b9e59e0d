package inference

import "fmt"

// ClassSet is a label table indexed by the network's class id.
type ClassSet []string

// COCOClasses are the labels of SSD models trained on COCO, indexed by the
// original 91 category ids. Index 0 is the background class and unused ids are
// "N/A".
var COCOClasses = ClassSet{
	"__background__", "person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "N/A", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "N/A", "backpack", "umbrella", "N/A",
	"N/A", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat",
	"baseball glove", "skateboard", "surfboard", "tennis racket", "bottle", "N/A", "wine glass", "cup", "fork", "knife",
	"spoon", "bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza",
	"donut", "cake", "chair", "couch", "potted plant", "bed", "N/A", "dining table", "N/A", "N/A",
	"toilet", "N/A", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave", "oven",
	"toaster", "sink", "refrigerator", "N/A", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// Name returns the label of id, or "class <id>" when the table has none.
func (c ClassSet) Name(id int) string {
	if id < 0 || id >= len(c) || c[id] == "N/A" {
		return fmt.Sprintf("class %d", id)
	}
	return c[id]
}

// LabelName returns the COCO label of an SSD class id.
func LabelName(id int) string {
	return COCOClasses.Name(id)
}
