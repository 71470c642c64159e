package genbatch

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
)

type boolChoiceValue struct {
	target *bool
}

func newBoolChoiceValue(target *bool) *boolChoiceValue {
	return &boolChoiceValue{target: target}
}

func (value *boolChoiceValue) String() string {
	if value == nil || value.target == nil {
		return ""
	}
	return strconv.FormatBool(*value.target)
}

func (value *boolChoiceValue) Set(input string) error {
	boolValue, ok := parseBoolChoice(input)
	if !ok {
		return errors.Newf("invalid boolean value %q", input)
	}
	*value.target = boolValue
	return nil
}

func (value *boolChoiceValue) Type() string {
	return "bool"
}

// boolChoiceVar registers a boolean flag that accepts yes/no/on/off spellings
// and may be given without a value.
func boolChoiceVar(flags *pflag.FlagSet, target *bool, name string, usage string) {
	flags.Var(newBoolChoiceValue(target), name, usage)
	if flag := flags.Lookup(name); flag != nil {
		flag.NoOptDefVal = "true"
		flag.DefValue = "false"
	}
}

func parseBoolChoice(input string) (bool, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		trimmed = "true"
	}
	normalized := strings.ToLower(trimmed)
	switch normalized {
	case "true", "t", "1", "yes", "y", "on":
		return true, true
	case "false", "f", "0", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}
