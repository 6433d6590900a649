package common

import (
	"reflect"

	"github.com/JeffreyRichter/enum/enum"
)

// Every state machine in this module (ChunkStatus, Status,
// ModuleState, EndpointStatus, EvictionPolicy, NetworkClass, ...) follows
// azcopy's enum idiom: a package-level `var EFoo = Foo(0)` plus one
// zero-arg method per symbol on a small numeric type, string/parse support
// coming from this package's thin wrappers over enum.StringInt/enum.Parse
// instead of a plain iota block. That gives every enum a String() and a
// Parse by symbol name, as azcopy's common/fe-ste-models.go does for
// JobStatus, TransferStatus, OverwriteOption and friends. JSON by symbol
// name is not automatic: a type gets it only by defining its own
// MarshalJSON/UnmarshalJSON (ErrorCode does); the others encode as numbers.

// EnumString renders v using its symbol name, falling back to the numeric
// value if v's type defines no matching zero-arg method.
func EnumString(v interface{}) string {
	return enum.StringInt(v, reflect.TypeOf(v))
}

// EnumParse looks up the symbol named s on enumType (case-insensitively)
// and returns it as an interface{} ready for a type assertion.
func EnumParse(enumType reflect.Type, s string) (interface{}, error) {
	return enum.ParseInt(enumType, s, true, true)
}
