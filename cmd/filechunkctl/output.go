package main

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/filechunkpro/filechunk-pro/common"
)

// OutputFormat is the CLI's --output flag, built on the same
// JeffreyRichter/enum idiom (common.EnumString/EnumParse) as every other
// enum in this module, mirroring azcopy's own OutputFormat flag.
type OutputFormat uint8

var EOutputFormat = OutputFormat(0)

func (OutputFormat) Text() OutputFormat { return OutputFormat(0) }
func (OutputFormat) JSON() OutputFormat { return OutputFormat(1) }

func (f OutputFormat) String() string { return common.EnumString(f) }

func parseOutputFormat(s string) (OutputFormat, error) {
	if s == "" {
		return EOutputFormat.Text(), nil
	}
	v, err := common.EnumParse(reflect.TypeOf(EOutputFormat), s)
	if err != nil {
		return 0, common.NewError(common.ECode.Input(), fmt.Sprintf("unknown output format %q", s), err)
	}
	return v.(OutputFormat), nil
}

// printOutput renders data as JSON when the format is JSON, otherwise
// calls text to produce the human-readable rendering.
func printOutput(w io.Writer, format OutputFormat, data interface{}, text func() string) error {
	if format == EOutputFormat.JSON() {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	fmt.Fprintln(w, text())
	return nil
}
