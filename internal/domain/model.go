package domain

import "fmt"

// Model selects the assistant variant and doubles as the chat namespace
type Model string

const (
	ModelAlly3      Model = "ALLY-3"
	ModelAlly3Image Model = "ALLY-3-IMAGE"
)

// PrimaryModel is the namespace counted in usage statistics
const PrimaryModel = ModelAlly3

// Models lists every known namespace
var Models = []Model{ModelAlly3, ModelAlly3Image}

// GeneratesImages reports whether replies from this model are images
func (m Model) GeneratesImages() bool {
	return m == ModelAlly3Image
}

// ParseModel validates a model tag coming from a client
func ParseModel(s string) (Model, error) {
	for _, m := range Models {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
}
