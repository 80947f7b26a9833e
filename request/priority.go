package request

import (
	"reflect"

	"github.com/JeffreyRichter/enum/enum"
)

// EPriority is the namespace for Priority's enum values, following the same
// E<Type>{}.Value() convention the teacher engine uses for its job priority
// and job status enums.
var EPriority = Priority(0)

// Priority totally orders image tasks and the jobs coalescing them.
// VeryLow is the zero value so an unset Priority field behaves safely.
type Priority uint8

func (Priority) VeryLow() Priority  { return Priority(0) }
func (Priority) Low() Priority      { return Priority(1) }
func (Priority) Normal() Priority   { return Priority(2) }
func (Priority) High() Priority     { return Priority(3) }
func (Priority) VeryHigh() Priority { return Priority(4) }

func (p Priority) String() string {
	return enum.StringInt(uint8(p), reflect.TypeOf(p))
}

// Max returns the greater of p and other, used by job.Job when recomputing
// its priority as the max over subscribers.
func (p Priority) Max(other Priority) Priority {
	if other > p {
		return other
	}
	return p
}
