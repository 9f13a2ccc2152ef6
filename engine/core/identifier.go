package core

import (
	"fmt"

	"github.com/google/uuid"
)

// NewObjectLabel returns a debug name for a GPU object such as "cmdlist-1b9d6bcd".
// Labels show up in validation reports and Vulkan debug callbacks.
func NewObjectLabel(kind string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%x", kind, id[:4])
}
